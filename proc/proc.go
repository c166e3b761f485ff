// Package proc implements the process table and scheduler: process
// creation (fork/exec), teardown (exit/wait), the sleep/wakeup
// rendezvous blocking syscalls use to wait for events, and the
// per-hart round-robin scheduler loop.
//
// Stock Go cannot execute privileged RISC-V instructions or the
// hand-written trampoline/context-switch assembly the teacher's
// patched runtime relies on (runtime.Gptr/Setgptr, runtime.IRQsched).
// This package is therefore a simulation: a hart is a goroutine running
// Runhart's loop; a trap is a plain function call carrying a trap
// frame; what the teacher calls swtch (switching from a running
// process back to the scheduler) is a channel handoff between the
// process's goroutine and its hart's loop goroutine. Every invariant
// the spec names - one lock held across a sleep, round-robin fairness,
// the lost-wakeup-avoidance contract - is preserved; only the
// suspension mechanism changes. The "current process" the teacher reads
// via goroutine-local storage (package tinfo) is threaded explicitly
// through call chains instead; no interrupt-disable depth is tracked.
package proc

import (
	"sync"

	"riscvkern/accnt"
	"riscvkern/defs"
	"riscvkern/file"
	"riscvkern/limits"
	"riscvkern/vm"
)

// Procstate_t is a process's scheduling state.
type Procstate_t int

const (
	RUNNABLE Procstate_t = iota
	RUNNING
	SLEEPING
	ZOMBIE
	DEAD
)

// Proc_t is one process: its address space, open files, and the
// bookkeeping needed for fork/exec/wait/exit.
type Proc_t struct {
	sync.Mutex // protects State, Chan, and Killed below

	Pid   defs.Pid_t
	Vm    *vm.Vm_t
	Fds   []*file.Fd_t
	Cwd   *file.Cwd_t
	Accnt accnt.Accnt_t

	Heapbrk uintptr // current program break, grown by sbrk

	State Procstate_t
	Chan  interface{} // non-nil iff State == SLEEPING: the channel being waited on
	Killed bool

	Parent   *Proc_t
	children []*Proc_t

	exitStatus int
	waitCh     chan struct{} // closed by Exit, observed by Wait

	resume chan struct{} // scheduler -> this process: "you may run"
	yield  chan struct{} // this process -> scheduler: "I'm giving up the hart"
}

// Ptable_t is the system-wide process table.
type Ptable_t struct {
	sync.Mutex
	procs    map[defs.Pid_t]*Proc_t
	waitLock sync.Mutex // orders parent/child teardown, as in the teacher's wait_lock
	nextpid  defs.Pid_t
	runq     chan *Proc_t
}

// MkPtable constructs an empty process table with a runnable queue
// sized to the process-count cap.
func MkPtable() *Ptable_t {
	return &Ptable_t{
		procs: make(map[defs.Pid_t]*Proc_t),
		runq:  make(chan *Proc_t, limits.Syslimit.Procs),
	}
}

// mkproc allocates a fresh Proc_t with no address space or files of its
// own; callers (Init, Fork) populate those. Fails with -defs.EAGAIN
// once the table already holds limits.Syslimit.Procs live records
// (spec.md §3's fixed-size process table, §7's "no free process"
// exhaustion path), rather than growing the backing map without bound.
func (pt *Ptable_t) mkproc() (*Proc_t, defs.Err_t) {
	pt.Lock()
	defer pt.Unlock()
	if int64(len(pt.procs)) >= limits.Syslimit.Procs {
		return nil, -defs.EAGAIN
	}
	pt.nextpid++
	p := &Proc_t{
		Pid:    pt.nextpid,
		State:  RUNNABLE,
		waitCh: make(chan struct{}),
		resume: make(chan struct{}),
		yield:  make(chan struct{}),
	}
	pt.procs[p.Pid] = p
	return p, 0
}

// Init creates the first process, pid 1, with the given address space
// and root/cwd already set up by the caller (the boot path constructs
// Init's Vm_t and Fds before calling this).
func (pt *Ptable_t) Init(as *vm.Vm_t, cwd *file.Cwd_t) (*Proc_t, defs.Err_t) {
	p, err := pt.mkproc()
	if err != 0 {
		return nil, err
	}
	p.Vm = as
	p.Cwd = cwd
	pt.Enqueue(p)
	return p, 0
}

// Find looks up a process by pid.
func (pt *Ptable_t) Find(pid defs.Pid_t) (*Proc_t, bool) {
	pt.Lock()
	defer pt.Unlock()
	p, ok := pt.procs[pid]
	return p, ok
}

// Enqueue makes p runnable and available to any idle hart.
func (pt *Ptable_t) Enqueue(p *Proc_t) {
	p.Lock()
	p.State = RUNNABLE
	p.Unlock()
	pt.runq <- p
}

// Fork duplicates the calling process: a fresh pid, a deep copy of its
// address space (this kernel copies eagerly; copy-on-write fork is an
// explicit non-goal), and Reopen'd references to every open file.
func (pt *Ptable_t) Fork(parent *Proc_t) (*Proc_t, defs.Err_t) {
	nas, err := parent.Vm.Copy_address_space()
	if err != 0 {
		return nil, err
	}
	child, err := pt.mkproc()
	if err != 0 {
		nas.Free_address_space()
		return nil, err
	}
	child.Vm = nas
	child.Cwd = parent.Cwd
	child.Fds = make([]*file.Fd_t, len(parent.Fds))
	for i, fd := range parent.Fds {
		if fd == nil {
			continue
		}
		nfd, err := file.Copyfd(fd)
		if err != 0 {
			return nil, err
		}
		child.Fds[i] = nfd
	}

	pt.waitLock.Lock()
	child.Parent = parent
	parent.children = append(parent.children, child)
	pt.waitLock.Unlock()

	pt.Enqueue(child)
	return child, 0
}

// Exit tears down the calling process: its address space is freed, its
// open files closed, and its children are reparented to pid 1 (init),
// matching the classic reparenting rule this kernel keeps from its
// xv6-style lineage.
func (pt *Ptable_t) Exit(p *Proc_t, status int) {
	for _, fd := range p.Fds {
		if fd != nil {
			fd.Fops.Close()
		}
	}
	p.Vm.Free_address_space()

	pt.waitLock.Lock()
	if initp, ok := pt.Find(1); ok && initp != p {
		for _, c := range p.children {
			c.Parent = initp
			initp.children = append(initp.children, c)
		}
	}
	pt.waitLock.Unlock()

	p.Lock()
	p.exitStatus = status
	p.State = ZOMBIE
	p.Unlock()
	close(p.waitCh)
}

// Wait blocks until some child of parent exits, reaps it, and returns
// its pid and exit status. pid == -1 waits for any child; a specific
// pid waits for that child only.
func (parentPt *Ptable_t) Wait(parent *Proc_t, pid defs.Pid_t) (defs.Pid_t, int, defs.Err_t) {
	for {
		parentPt.waitLock.Lock()
		var target *Proc_t
		anyChildren := false
		for _, c := range parent.children {
			if pid != -1 && c.Pid != pid {
				continue
			}
			anyChildren = true
			c.Lock()
			zombie := c.State == ZOMBIE
			c.Unlock()
			if zombie {
				target = c
				break
			}
		}
		if !anyChildren {
			parentPt.waitLock.Unlock()
			return 0, 0, -defs.ECHILD
		}
		if target != nil {
			parentPt.removeChild(parent, target)
			parentPt.waitLock.Unlock()
			parentPt.Lock()
			delete(parentPt.procs, target.Pid)
			parentPt.Unlock()
			return target.Pid, target.exitStatus, 0
		}
		parentPt.waitLock.Unlock()
		<-anyChildExit(parent, pid)
	}
}

func (pt *Ptable_t) removeChild(parent, target *Proc_t) {
	out := parent.children[:0]
	for _, c := range parent.children {
		if c != target {
			out = append(out, c)
		}
	}
	parent.children = out
}

// anyChildExit returns a channel that becomes ready when any
// currently-tracked child matching pid exits, used by Wait to block
// without busy-polling.
func anyChildExit(parent *Proc_t, pid defs.Pid_t) <-chan struct{} {
	merged := make(chan struct{})
	parent.Lock()
	kids := append([]*Proc_t(nil), parent.children...)
	parent.Unlock()
	var once sync.Once
	closeMerged := func() { once.Do(func() { close(merged) }) }
	matched := false
	for _, c := range kids {
		if pid == -1 || c.Pid == pid {
			matched = true
			go func(ch chan struct{}) {
				<-ch
				closeMerged()
			}(c.waitCh)
		}
	}
	if !matched {
		closeMerged()
	}
	return merged
}

// Accounts returns a snapshot of every live process's CPU-time
// accounting record, for the /dev/prof profile dump.
func (pt *Ptable_t) Accounts() []*accnt.Accnt_t {
	pt.Lock()
	defer pt.Unlock()
	out := make([]*accnt.Accnt_t, 0, len(pt.procs))
	for _, p := range pt.procs {
		out = append(out, &p.Accnt)
	}
	return out
}

// Kill marks the process with that pid doomed; it observes Killed the
// next time it returns from a trap (trap.UserTrap checks it on the way
// out). Sleep does not check Killed, so a sleeping process is not woken.
func (pt *Ptable_t) Kill(pid defs.Pid_t) defs.Err_t {
	p, ok := pt.Find(pid)
	if !ok {
		return -defs.ESRCH
	}
	p.Lock()
	p.Killed = true
	p.Unlock()
	return 0
}
