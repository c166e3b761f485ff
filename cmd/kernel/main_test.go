package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"riscvkern/defs"
	"riscvkern/diskdrv"
	"riscvkern/file"
	"riscvkern/fs"
	"riscvkern/mem"
	"riscvkern/proc"
	"riscvkern/trap"
	"riscvkern/ustr"
)

func putLE16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putLE32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// buildInitELF assembles a minimal 64-bit ELF image by hand, one
// PT_LOAD segment mapped at vaddr 0: /init has nothing to execute in
// this kernel (see runInit's doc comment), it just has to exist as a
// well-formed exec target.
func buildInitELF() []byte {
	const ehsize, phsize = 64, 56
	page := make([]byte, 4096)
	hdr := make([]byte, ehsize)
	copy(hdr[0:4], []byte{0x7f, 'E', 'L', 'F'})
	hdr[4] = 2
	hdr[5] = 1
	hdr[6] = 1
	putLE16(hdr[16:], 2)
	putLE16(hdr[18:], 243)
	putLE32(hdr[20:], 1)
	putLE64(hdr[24:], 0)
	putLE64(hdr[32:], uint64(ehsize))
	putLE16(hdr[52:], ehsize)
	putLE16(hdr[54:], phsize)
	putLE16(hdr[56:], 1)

	ph := make([]byte, phsize)
	putLE32(ph[0:], 1)
	putLE32(ph[4:], 7)
	putLE64(ph[8:], uint64(ehsize+phsize))
	putLE64(ph[16:], 0)
	putLE64(ph[24:], 0)
	putLE64(ph[32:], uint64(len(page)))
	putLE64(ph[40:], uint64(len(page)))
	putLE64(ph[48:], 4096)

	out := append(hdr, ph...)
	out = append(out, page...)
	return out
}

func mkBootKernel(t *testing.T) *trap.Kernel_i {
	t.Helper()
	disk := diskdrv.MkMemDisk()
	const logLen, inodeLen, bitmapLen = 8, 4, 1
	nblocks := 2 + logLen + inodeLen + bitmapLen + 400
	fsys := fs.MkFS(1, disk, nblocks, logLen, inodeLen, bitmapLen, true)

	root := fsys.Root()
	cwd := &fs.Cwd_t{Root: root, Cwd: root}
	ip, err := fsys.Fs_open(ustr.Ustr("/init"), defs.O_CREAT|defs.O_RDWR, 0, cwd)
	if err != 0 {
		t.Fatalf("Fs_open(/init): %v", err)
	}
	fsys.BeginOp()
	ip.Lock(fsys)
	fsys.Write(ip, buildInitELF(), 0)
	ip.Unlock()
	fsys.EndOp()
	fsys.Fs_evict(ip)

	phys := mem.Phys_init(256)
	pt := proc.MkPtable()
	devs := file.MkDevTable(pt.Accounts)
	return &trap.Kernel_i{Pt: pt, Fs: fsys, Mem: phys, Devs: devs, Ticks: func() uint64 { return 0 }}
}

func TestBootInitCreatesPidOneWithConsoleFds(t *testing.T) {
	k := mkBootKernel(t)

	initp, err := bootInit(k)
	if err != 0 {
		t.Fatalf("bootInit: %v", err)
	}
	if initp.Pid != 1 {
		t.Fatalf("bootInit pid = %d, want 1", initp.Pid)
	}
	if len(initp.Fds) != 3 {
		t.Fatalf("bootInit fds = %d, want 3", len(initp.Fds))
	}
	for i, fd := range initp.Fds {
		if fd == nil {
			t.Fatalf("fd %d is nil", i)
		}
	}
	initp.Lock()
	state := initp.State
	initp.Unlock()
	if state != proc.RUNNABLE {
		t.Fatalf("bootInit pid 1 state = %v, want RUNNABLE", state)
	}
}

func TestRunInitReapsChildrenForever(t *testing.T) {
	k := mkBootKernel(t)
	initp, err := bootInit(k)
	if err != 0 {
		t.Fatalf("bootInit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, _ := proc.StartHarts(ctx, k.Pt, 2)
	defer g.Wait()
	defer cancel()

	initp.Run(func() { runInit(k, initp) })

	child, ferr := k.Pt.Fork(initp)
	if ferr != 0 {
		t.Fatalf("Fork: %v", ferr)
	}
	done := make(chan struct{})
	child.Run(func() {
		k.Pt.Exit(child, 7)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("child never ran to exit")
	}

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := k.Pt.Find(child.Pid); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("runInit never reaped the exited child")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestTickLoopAdvancesTicksAndWakesSleepers(t *testing.T) {
	k := mkBootKernel(t)
	var ticks uint64
	const shortTick = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		tk := time.NewTicker(shortTick)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				atomic.AddUint64(&ticks, 1)
				trap.WakeTick(k.Pt)
			}
		}
	}()

	deadline := time.After(1 * time.Second)
	for atomic.LoadUint64(&ticks) == 0 {
		select {
		case <-deadline:
			t.Fatalf("ticks never advanced")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
