// Command kernel is the supervisor-mode entry point the (out-of-scope)
// boot shim would transfer control to. It mounts a filesystem image
// built by cmd/mkfs, wires up the frame allocator, process table, and
// device table, creates the init process, and starts one scheduler
// goroutine per simulated hart, grounded on justanotherdot-biscuit's
// main()/phys_init()/cpus_start() boot sequence.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"riscvkern/defs"
	"riscvkern/diskdrv"
	"riscvkern/file"
	"riscvkern/fs"
	"riscvkern/mem"
	"riscvkern/proc"
	"riscvkern/trap"
	"riscvkern/ustr"
	"riscvkern/vm"
)

const (
	nlogblks    = 1024
	ninodeblks  = 100 * 50
	nbitmapblks = 64
	ndatablks   = 40000

	nframes  = 8192
	nharts   = 4
	tickSpan = 10 * time.Millisecond
)

func main() {
	image := flag.String("image", "fs.img", "disk image built by cmd/mkfs")
	flag.Parse()

	total := 2 + nlogblks + ninodeblks + nbitmapblks + ndatablks
	disk, err := diskdrv.Open(*image, total)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kernel: %v\n", err)
		os.Exit(1)
	}

	fsys := fs.MkFS(1, disk, total, nlogblks, ninodeblks, nbitmapblks, false)
	phys := mem.Phys_init(nframes)
	pt := proc.MkPtable()

	var ticks uint64
	tickFn := func() uint64 { return atomic.LoadUint64(&ticks) }
	devs := file.MkDevTable(pt.Accounts)
	k := &trap.Kernel_i{Pt: pt, Fs: fsys, Mem: phys, Devs: devs, Ticks: tickFn}

	initp, err2 := bootInit(k)
	if err2 != 0 {
		fmt.Fprintf(os.Stderr, "kernel: boot init: %v\n", err2)
		os.Exit(1)
	}
	initp.Run(func() { runInit(k, initp) })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go tickLoop(ctx, &ticks, pt)

	g, _ := proc.StartHarts(ctx, pt, nharts)
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "kernel: %v\n", err)
		os.Exit(1)
	}
}

// bootInit creates pid 1 with console fds 0/1/2 and loads /init into
// its address space directly, the way the teacher's userinit()
// hand-builds the first process's trapframe rather than routing
// through the syscall a later exec(2) would use.
func bootInit(k *trap.Kernel_i) (*proc.Proc_t, defs.Err_t) {
	root := k.Fs.Root()
	cwd := &file.Cwd_t{Dir: &fs.Cwd_t{Root: root, Cwd: root}}

	as, err := vm.Mkvm(k.Mem)
	if err != 0 {
		return nil, err
	}
	initp, err := k.Pt.Init(as, cwd)
	if err != 0 {
		return nil, err
	}

	console, err := k.Devs.Open(defs.D_CONSOLE, 0)
	if err != 0 {
		return nil, err
	}
	initp.Fds = []*file.Fd_t{
		{Fops: console, Perms: file.FD_READ},
		{Fops: console, Perms: file.FD_WRITE},
		{Fops: console, Perms: file.FD_WRITE},
	}

	argv := []ustr.Ustr{ustr.Ustr("/init")}
	if _, _, _, err := k.Pt.Exec(initp, k.Fs, ustr.Ustr("/init"), argv, k.Mem); err != 0 {
		return nil, err
	}
	return initp, 0
}

// runInit is pid 1's body. This kernel never interprets the RISC-V
// instructions exec() just mapped in (a user-space instruction
// interpreter is an out-of-scope external collaborator); what a real
// /init does up to its terminal wait() loop - open the console,
// fork a shell, reap whatever shows up as a zombie - has no observable
// effect here beyond the process-table and fd state bootInit already
// set up, so runInit goes straight to init's steady state: reaping
// children forever.
func runInit(k *trap.Kernel_i, p *proc.Proc_t) {
	for {
		if _, _, err := k.Pt.Wait(p, -1); err == -defs.ECHILD {
			k.Pt.Yield(p)
			time.Sleep(tickSpan)
		}
	}
}

// tickLoop is the simulated timer-interrupt source: once per tickSpan
// it advances the global tick count and wakes every process blocked in
// sys_sleep, mirroring spec.md §4.2's "timer interrupts call yield ...
// and wakeup(&ticks)".
func tickLoop(ctx context.Context, ticks *uint64, pt *proc.Ptable_t) {
	t := time.NewTicker(tickSpan)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			atomic.AddUint64(ticks, 1)
			trap.WakeTick(pt)
		}
	}
}
