// Package trap implements the user/supervisor trap boundary: a trap
// frame type carrying the saved register state, the syscall dispatch
// table keyed by the conventional syscall numbers, and fatal-trap
// disassembly for traps a syscall handler cannot resolve.
//
// The teacher's trapstub (biscuit's assembly trampoline, referenced in
// the justanotherdot-biscuit main.go's trapstub/tfdump) saves user
// registers into a raw trap-frame page and calls into Go with a current
// process implied by per-cpu state reachable only through the patched
// runtime. Without that runtime patch or real trap hardware, UserTrap
// here is an ordinary Go function call made by a process's own
// goroutine (see package proc's doc comment); TrapFrame_t is a plain
// struct of named fields standing in for the raw page trapstub would
// have saved into, and the syscall number/argument registers below are
// exactly the ones tfdump prints.
package trap

import (
	"fmt"
	"sync"

	"golang.org/x/arch/riscv64/riscv64asm"

	"riscvkern/debug"
	"riscvkern/defs"
	"riscvkern/file"
	"riscvkern/fs"
	"riscvkern/mem"
	"riscvkern/proc"
	"riscvkern/stat"
	"riscvkern/ustr"
	"riscvkern/vm"
)

// TrapFrame_t carries the register state a trap saves and a syscall
// return value restores, matching the a0-a7/sepc subset of an Sv39
// trap frame that this kernel's syscall ABI actually uses.
type TrapFrame_t struct {
	A0, A1, A2, A3, A4, A5, A6, A7 uintptr
	Sepc                           uintptr
	Scause                         uintptr
}

// Syscall numbers (spec.md §6's conventional set).
const (
	SYS_FORK = iota + 1
	SYS_EXIT
	SYS_WAIT
	SYS_PIPE
	SYS_READ
	SYS_KILL
	SYS_EXEC
	SYS_FSTAT
	SYS_CHDIR
	SYS_DUP
	SYS_GETPID
	SYS_SBRK
	SYS_SLEEP
	SYS_UPTIME
	SYS_OPEN
	SYS_WRITE
	SYS_MKNOD
	SYS_UNLINK
	SYS_LINK
	SYS_MKDIR
	SYS_CLOSE
)

const scauseEcallFromU = 8

// Kernel_i is the subset of kernel-global state a syscall handler needs:
// the process table (for fork/wait/kill/sbrk's scheduling side) and the
// filesystem (for every path-taking call). Bundled into an interface so
// trap doesn't import a concrete boot-time wiring struct.
type Kernel_i struct {
	Pt    *proc.Ptable_t
	Fs    *fs.Fs_t
	Mem   *mem.Physmem_t
	Devs  *file.DevTable_t
	Ticks func() uint64
}

type sysfn func(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t)

var dispatch = map[int]sysfn{
	SYS_FORK:   sysFork,
	SYS_EXIT:   sysExit,
	SYS_WAIT:   sysWait,
	SYS_PIPE:   sysPipe,
	SYS_READ:   sysRead,
	SYS_KILL:   sysKill,
	SYS_EXEC:   sysExec,
	SYS_FSTAT:  sysFstat,
	SYS_CHDIR:  sysChdir,
	SYS_DUP:    sysDup,
	SYS_GETPID: sysGetpid,
	SYS_SBRK:   sysSbrk,
	SYS_SLEEP:  sysSleep,
	SYS_UPTIME: sysUptime,
	SYS_OPEN:   sysOpen,
	SYS_WRITE:  sysWrite,
	SYS_MKNOD:  sysMknod,
	SYS_UNLINK: sysUnlink,
	SYS_LINK:   sysLink,
	SYS_MKDIR:  sysMkdir,
	SYS_CLOSE:  sysClose,
}

// UserTrap is called (as a plain function, in place of the teacher's
// assembly trap entry + trapstub) whenever p's goroutine reaches a
// point that would, on real hardware, be a trap: a syscall instruction
// or a fault. It distinguishes syscall from fault by Scause, dispatches
// syscalls by the number in A7, writes the result back into A0 (the
// zeroth argument register, per spec.md §6's return convention), and
// checks Killed on the way out so a killed process never resumes user
// code.
func UserTrap(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) {
	if tf.Scause == scauseEcallFromU {
		tf.Sepc += 4 // skip past the ecall instruction, as real hardware requires
		fn, ok := dispatch[int(tf.A7)]
		if !ok {
			tf.A0 = uintptr(int(-defs.ENOSYS))
		} else {
			ret, err := fn(k, p, tf)
			if err != 0 {
				tf.A0 = uintptr(int(err))
			} else {
				tf.A0 = ret
			}
		}
	} else {
		Fatal(tf, nil)
	}

	p.Lock()
	killed := p.Killed
	p.Unlock()
	if killed {
		k.Pt.Exit(p, -1)
	}
}

// Fatal reports a trap that isn't a syscall and that the kernel has no
// handler for: an illegal instruction, a page fault outside any known
// recovery path, and so on. img, when non-nil, is the raw instruction
// bytes at the faulting PC, disassembled for the halt message the way
// the teacher's tfdump prints a register dump on an unrecoverable trap.
func Fatal(tf *TrapFrame_t, img []byte) {
	msg := fmt.Sprintf("fatal trap: scause=%#x sepc=%#x", tf.Scause, tf.Sepc)
	if img != nil {
		if inst, err := riscv64asm.Decode(img); err == nil {
			msg += fmt.Sprintf(" instr=%v", inst)
		}
	}
	debug.Callerdump(2)
	panic(msg)
}

func sysFork(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	child, err := k.Pt.Fork(p)
	if err != 0 {
		return 0, err
	}
	return uintptr(child.Pid), 0
}

func sysExit(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	k.Pt.Exit(p, int(int32(tf.A0)))
	return 0, 0
}

func sysWait(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	pid, status, err := k.Pt.Wait(p, -1)
	if err != 0 {
		return 0, err
	}
	if tf.A0 != 0 {
		if e := p.Vm.Userwriten(tf.A0, 4, status); e != 0 {
			return 0, e
		}
	}
	return uintptr(pid), 0
}

func sysKill(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	return 0, k.Pt.Kill(defs.Pid_t(int32(tf.A0)))
}

func sysGetpid(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	return uintptr(p.Pid), 0
}

func sysSbrk(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	old, err := p.Sbrk(int(int32(tf.A0)))
	return old, err
}

func sysSleep(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	ticks := tf.A0
	target := k.Ticks() + uint64(ticks)
	tickLk.Lock()
	for k.Ticks() < target {
		k.Pt.Sleep(p, tickChan, &tickLk)
	}
	tickLk.Unlock()
	return 0, 0
}

// tickChan is the wakeup key timer interrupts broadcast on, and tickLk
// the condition lock sys_sleep's waiters hold while checking it; wired
// to the boot loop's timer tick source (it calls Wakeup(tickChan) on
// every tick).
var tickChan = new(int)
var tickLk sync.Mutex

func sysUptime(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	return uintptr(k.Ticks()), 0
}

// WakeTick wakes every process blocked in sys_sleep waiting on the next
// tick; the boot loop's timer source calls this once per simulated
// tick, standing in for the real timer-interrupt path's call to
// wakeup(&ticks) in spec.md §4.2.
func WakeTick(pt *proc.Ptable_t) { pt.Wakeup(tickChan) }

func fdOf(p *proc.Proc_t, n int) (*file.Fd_t, defs.Err_t) {
	if n < 0 || n >= len(p.Fds) || p.Fds[n] == nil {
		return nil, -defs.EBADF
	}
	return p.Fds[n], 0
}

func allocFd(p *proc.Proc_t, fd *file.Fd_t) (int, defs.Err_t) {
	for i, cur := range p.Fds {
		if cur == nil {
			p.Fds[i] = fd
			return i, 0
		}
	}
	p.Fds = append(p.Fds, fd)
	return len(p.Fds) - 1, 0
}

func sysRead(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	fd, err := fdOf(p, int(tf.A0))
	if err != 0 {
		return 0, err
	}
	ub := &vm.Userbuf_t{}
	ub.Ub_init(p.Vm, tf.A1, int(tf.A2))
	n, err := fd.Fops.Read(ub)
	return uintptr(n), err
}

func sysWrite(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	fd, err := fdOf(p, int(tf.A0))
	if err != 0 {
		return 0, err
	}
	ub := &vm.Userbuf_t{}
	ub.Ub_init(p.Vm, tf.A1, int(tf.A2))
	n, err := fd.Fops.Write(ub)
	return uintptr(n), err
}

func sysClose(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	fd, err := fdOf(p, int(tf.A0))
	if err != 0 {
		return 0, err
	}
	p.Fds[int(tf.A0)] = nil
	return 0, fd.Fops.Close()
}

func sysDup(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	fd, err := fdOf(p, int(tf.A0))
	if err != 0 {
		return 0, err
	}
	nfd, err := file.Copyfd(fd)
	if err != 0 {
		return 0, err
	}
	idx, err := allocFd(p, nfd)
	return uintptr(idx), err
}

func sysFstat(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	fd, err := fdOf(p, int(tf.A0))
	if err != 0 {
		return 0, err
	}
	var st stat.Stat_t
	if err := fd.Fops.Fstat(&st); err != 0 {
		return 0, err
	}
	if err := p.Vm.Copy_out(tf.A1, st.Bytes()); err != 0 {
		return 0, err
	}
	return 0, 0
}

func pathArg(p *proc.Proc_t, uva uintptr) (ustr.Ustr, defs.Err_t) {
	return p.Vm.Copy_in_str(uva, 128)
}

func sysOpen(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	path, err := pathArg(p, tf.A0)
	if err != 0 {
		return 0, err
	}
	flags := int(int32(tf.A1))
	ip, err := k.Fs.Fs_open(path, flags, int(tf.A2), p.Cwd.Dir)
	if err != 0 {
		return 0, err
	}
	perms := file.FD_READ
	switch flags & 0x3 {
	case defs.O_WRONLY:
		perms = file.FD_WRITE
	case defs.O_RDWR:
		perms = file.FD_READ | file.FD_WRITE
	}

	var fops file.Fdops_i
	if ip.Type == defs.I_DEV {
		dfops, err := k.Devs.Open(ip.Major, ip.Minor)
		k.Fs.Fs_evict(ip)
		if err != 0 {
			return 0, err
		}
		fops = dfops
	} else {
		fops = file.MkFile(k.Fs, ip, 0, false)
	}

	fd := &file.Fd_t{Fops: fops, Perms: perms}
	idx, err := allocFd(p, fd)
	return uintptr(idx), err
}

func sysMkdir(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	path, err := pathArg(p, tf.A0)
	if err != 0 {
		return 0, err
	}
	return 0, k.Fs.Fs_mkdir(path, 0, p.Cwd.Dir)
}

func sysUnlink(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	path, err := pathArg(p, tf.A0)
	if err != 0 {
		return 0, err
	}
	return 0, k.Fs.Fs_unlink(path, p.Cwd.Dir)
}

func sysLink(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	oldp, err := pathArg(p, tf.A0)
	if err != 0 {
		return 0, err
	}
	newp, err := pathArg(p, tf.A1)
	if err != 0 {
		return 0, err
	}
	return 0, k.Fs.Fs_link(oldp, newp, p.Cwd.Dir)
}

func sysChdir(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	path, err := pathArg(p, tf.A0)
	if err != 0 {
		return 0, err
	}
	ip, err := k.Fs.Fs_open(path, defs.O_RDONLY, 0, p.Cwd.Dir)
	if err != 0 {
		return 0, err
	}
	if ip.Type != defs.I_DIR {
		k.Fs.Fs_evict(ip)
		return 0, -defs.ENOTDIR
	}
	p.Cwd.Lock()
	old := p.Cwd.Dir.Cwd
	p.Cwd.Dir.Cwd = ip
	p.Cwd.Unlock()
	k.Fs.Fs_evict(old)
	return 0, 0
}

func sysMknod(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	path, err := pathArg(p, tf.A0)
	if err != 0 {
		return 0, err
	}
	ip, err := k.Fs.Fs_open(path, defs.O_CREAT, 0, p.Cwd.Dir)
	if err != 0 {
		return 0, err
	}
	ip.Major = int(int32(tf.A1))
	ip.Minor = int(int32(tf.A2))
	k.Fs.Fs_evict(ip)
	return 0, 0
}

func sysPipe(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	pp := file.MkPipe(4096)
	rfd := &file.Fd_t{Fops: pp.ReadEnd(), Perms: file.FD_READ}
	wfd := &file.Fd_t{Fops: pp.WriteEnd(), Perms: file.FD_WRITE}
	ridx, err := allocFd(p, rfd)
	if err != 0 {
		return 0, err
	}
	widx, err := allocFd(p, wfd)
	if err != 0 {
		return 0, err
	}
	pair := [2]int32{int32(ridx), int32(widx)}
	buf := make([]uint8, 8)
	for i := 0; i < 2; i++ {
		v := uint32(pair[i])
		for b := 0; b < 4; b++ {
			buf[i*4+b] = uint8(v >> (8 * b))
		}
	}
	return 0, p.Vm.Copy_out(tf.A0, buf)
}

// argvArg reads a null-terminated array of user pointers starting at
// uva, each pointing to a NUL-terminated argument string, matching the
// argv layout sys_exec's caller builds on its own stack.
func argvArg(p *proc.Proc_t, uva uintptr) ([]ustr.Ustr, defs.Err_t) {
	if uva == 0 {
		return nil, 0
	}
	var argv []ustr.Ustr
	for i := 0; i <= proc.MAXARG; i++ {
		if i == proc.MAXARG {
			return nil, -defs.E2BIG
		}
		ptr, err := p.Vm.Userreadn(uva+uintptr(i*8), 8)
		if err != 0 {
			return nil, err
		}
		if ptr == 0 {
			return argv, 0
		}
		s, err := p.Vm.Copy_in_str(uintptr(ptr), proc.MaxArglen)
		if err != 0 {
			return nil, err
		}
		argv = append(argv, s)
	}
	return argv, 0
}

func sysExec(k *Kernel_i, p *proc.Proc_t, tf *TrapFrame_t) (uintptr, defs.Err_t) {
	path, err := pathArg(p, tf.A0)
	if err != 0 {
		return 0, err
	}
	argv, err := argvArg(p, tf.A1)
	if err != 0 {
		return 0, err
	}
	entry, sp, argc, err := k.Pt.Exec(p, k.Fs, path, argv, k.Mem)
	if err != 0 {
		return 0, err
	}
	tf.Sepc = entry
	tf.A1 = sp
	return uintptr(argc), 0
}
