package proc

// Sleep blocks the calling process until some other goroutine calls
// Wakeup(chankey) for the same chankey. lk must be held by the caller
// on entry and is released while the caller sleeps and reacquired
// before Sleep returns, exactly as xv6-family sleep/wakeup requires: lk
// is whatever protects the condition the caller is waiting on, so that
// between "check the condition" and "go to sleep" no wakeup can be
// lost. Marking p SLEEPING and recording the channel key happens while
// p's own lock is held, before lk is released, closing the lost-wakeup
// window.
func (pt *Ptable_t) Sleep(p *Proc_t, chankey interface{}, lk Locker) {
	p.Lock()
	p.resume = make(chan struct{})
	p.State = SLEEPING
	p.Chan = chankey
	p.Unlock()

	lk.Unlock()
	p.Sched()
	lk.Lock()
}

// Locker is satisfied by sync.Mutex, lock.Spinlock_t, and anything else
// Sleep can release-then-reacquire around a wait.
type Locker interface {
	Lock()
	Unlock()
}

// Wakeup moves every SLEEPING process waiting on chankey back onto the
// run queue. Called with no per-process lock held; it takes each
// candidate's own lock internally.
func (pt *Ptable_t) Wakeup(chankey interface{}) {
	pt.Lock()
	procs := make([]*Proc_t, 0, len(pt.procs))
	for _, p := range pt.procs {
		procs = append(procs, p)
	}
	pt.Unlock()

	for _, p := range procs {
		p.Lock()
		match := p.State == SLEEPING && p.Chan == chankey
		if match {
			p.State = RUNNABLE
			p.Chan = nil
		}
		p.Unlock()
		if match {
			pt.Enqueue(p)
		}
	}
}
