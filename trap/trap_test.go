package trap_test

import (
	"testing"

	"riscvkern/accnt"
	"riscvkern/defs"
	"riscvkern/diskdrv"
	"riscvkern/file"
	"riscvkern/fs"
	"riscvkern/mem"
	"riscvkern/proc"
	"riscvkern/trap"
	"riscvkern/vm"
)

const pathVa = 0x5000

func mkTestKernel(t *testing.T) (*trap.Kernel_i, *proc.Proc_t) {
	t.Helper()
	disk := diskdrv.MkMemDisk()
	const logLen, inodeLen, bitmapLen = 8, 4, 1
	nblocks := 2 + logLen + inodeLen + bitmapLen + 400
	fsys := fs.MkFS(1, disk, nblocks, logLen, inodeLen, bitmapLen, true)

	m := mem.Phys_init(256)
	pt := proc.MkPtable()
	devs := file.MkDevTable(func() []*accnt.Accnt_t { return nil })

	root := fsys.Root()
	as, err := vm.Mkvm(m)
	if err != 0 {
		t.Fatalf("Mkvm: %v", err)
	}
	p, err := pt.Init(as, &file.Cwd_t{Dir: &fs.Cwd_t{Root: root, Cwd: root}})
	if err != 0 {
		t.Fatalf("Init: %v", err)
	}

	if err := as.Mapuser(pathVa, 1, vm.PTE_R|vm.PTE_W|vm.PTE_U); err != 0 {
		t.Fatalf("Mapuser path page: %v", err)
	}

	k := &trap.Kernel_i{Pt: pt, Fs: fsys, Mem: m, Devs: devs, Ticks: func() uint64 { return 0 }}
	return k, p
}

func setPath(t *testing.T, p *proc.Proc_t, path string) {
	t.Helper()
	buf := make([]byte, len(path)+1)
	copy(buf, path)
	if err := p.Vm.Copy_out(pathVa, buf); err != 0 {
		t.Fatalf("Copy_out path: %v", err)
	}
}

func TestSyscallGetpid(t *testing.T) {
	k, p := mkTestKernel(t)
	tf := &trap.TrapFrame_t{Scause: 8, A7: trap.SYS_GETPID}
	trap.UserTrap(k, p, tf)
	if defs.Pid_t(tf.A0) == 0 {
		t.Fatalf("sys_getpid returned 0")
	}
}

func TestSyscallOpenWriteReadClose(t *testing.T) {
	k, p := mkTestKernel(t)
	setPath(t, p, "/greeting")

	tf := &trap.TrapFrame_t{Scause: 8, A7: trap.SYS_OPEN, A0: pathVa, A1: uintptr(defs.O_CREAT | defs.O_RDWR)}
	trap.UserTrap(k, p, tf)
	if int32(tf.A0) < 0 {
		t.Fatalf("sys_open returned error %d", int32(tf.A0))
	}
	fd := tf.A0

	const bufVa = 0x6000
	p.Vm.Mapuser(bufVa, 1, vm.PTE_R|vm.PTE_W|vm.PTE_U)
	p.Vm.Copy_out(bufVa, []byte("hi"))

	wtf := &trap.TrapFrame_t{Scause: 8, A7: trap.SYS_WRITE, A0: fd, A1: bufVa, A2: 2}
	trap.UserTrap(k, p, wtf)
	if int32(wtf.A0) != 2 {
		t.Fatalf("sys_write returned %d, want 2", int32(wtf.A0))
	}

	// sys_close then sys_open again at offset 0 to read back.
	ctf := &trap.TrapFrame_t{Scause: 8, A7: trap.SYS_CLOSE, A0: fd}
	trap.UserTrap(k, p, ctf)
	if int32(ctf.A0) != 0 {
		t.Fatalf("sys_close returned %d", int32(ctf.A0))
	}

	otf := &trap.TrapFrame_t{Scause: 8, A7: trap.SYS_OPEN, A0: pathVa, A1: uintptr(defs.O_RDONLY)}
	trap.UserTrap(k, p, otf)
	fd2 := otf.A0

	rtf := &trap.TrapFrame_t{Scause: 8, A7: trap.SYS_READ, A0: fd2, A1: bufVa, A2: 2}
	trap.UserTrap(k, p, rtf)
	if int32(rtf.A0) != 2 {
		t.Fatalf("sys_read returned %d, want 2", int32(rtf.A0))
	}
	got := make([]byte, 2)
	p.Vm.Copy_in(bufVa, got)
	if string(got) != "hi" {
		t.Fatalf("sys_read body = %q, want \"hi\"", got)
	}
}

func TestSyscallMkdirAndUnlink(t *testing.T) {
	k, p := mkTestKernel(t)
	setPath(t, p, "/adir")

	tf := &trap.TrapFrame_t{Scause: 8, A7: trap.SYS_MKDIR, A0: pathVa}
	trap.UserTrap(k, p, tf)
	if int32(tf.A0) != 0 {
		t.Fatalf("sys_mkdir returned %d", int32(tf.A0))
	}

	utf := &trap.TrapFrame_t{Scause: 8, A7: trap.SYS_UNLINK, A0: pathVa}
	trap.UserTrap(k, p, utf)
	if int32(utf.A0) != 0 {
		t.Fatalf("sys_unlink returned %d", int32(utf.A0))
	}
}

func TestSyscallSbrk(t *testing.T) {
	k, p := mkTestKernel(t)
	tf := &trap.TrapFrame_t{Scause: 8, A7: trap.SYS_SBRK, A0: 4096}
	trap.UserTrap(k, p, tf)
	if int32(tf.A0) < 0 {
		t.Fatalf("sys_sbrk returned error %d", int32(tf.A0))
	}
}

func TestSyscallUnknownNumberReturnsENOSYS(t *testing.T) {
	k, p := mkTestKernel(t)
	tf := &trap.TrapFrame_t{Scause: 8, A7: 999}
	trap.UserTrap(k, p, tf)
	if int32(tf.A0) != int32(-defs.ENOSYS) {
		t.Fatalf("unknown syscall number = %d, want -ENOSYS", int32(tf.A0))
	}
}

func TestKilledProcessExitsOnTrapReturn(t *testing.T) {
	k, p := mkTestKernel(t)
	k.Pt.Kill(p.Pid)

	tf := &trap.TrapFrame_t{Scause: 8, A7: trap.SYS_GETPID}
	trap.UserTrap(k, p, tf)

	p.Lock()
	state := p.State
	p.Unlock()
	if state != proc.ZOMBIE {
		t.Fatalf("killed process state after trap return = %v, want ZOMBIE", state)
	}
}
