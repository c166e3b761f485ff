package proc

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Cpu_t is the simulated per-hart state: which process it is currently
// running (nil when idle), threaded explicitly through the hart loop
// instead of kept in CPU-local storage as the teacher's Cpu_t is. It
// carries no interrupt-disable nesting depth; package lock keeps no
// per-hart state either.
type Cpu_t struct {
	Hartid int
	Cur    *Proc_t
}

// Runhart is one hart's scheduler loop: pull the next runnable process
// off the queue, hand it the hart by closing its resume channel, then
// block until that process yields the hart back (by sending on its
// yield channel from Sched, called at every sleep/exit/preemption
// point), round-robin style. It returns when ctx is cancelled, which
// happens when the boot errgroup tears every hart down together.
func (pt *Ptable_t) Runhart(ctx context.Context, c *Cpu_t) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-pt.runq:
			p.Lock()
			if p.State != RUNNABLE {
				p.Unlock()
				continue
			}
			p.State = RUNNING
			p.Unlock()

			c.Cur = p
			close(p.resume)
			select {
			case <-p.yield:
			case <-ctx.Done():
				c.Cur = nil
				return nil
			}
			c.Cur = nil

			p.Lock()
			st := p.State
			p.Unlock()
			if st == RUNNABLE {
				pt.Enqueue(p)
			}
			// ZOMBIE/DEAD/SLEEPING: the code that changed State into
			// one of those is responsible for re-enqueuing later
			// (wakeup) or never again (exit).
		}
	}
}

// StartHarts launches nharts goroutines running Runhart, supervised by
// an errgroup so a panicking hart tears the rest down together rather
// than leaving the system half-scheduled.
func StartHarts(ctx context.Context, pt *Ptable_t, nharts int) (*errgroup.Group, []*Cpu_t) {
	g, gctx := errgroup.WithContext(ctx)
	cpus := make([]*Cpu_t, nharts)
	for i := 0; i < nharts; i++ {
		c := &Cpu_t{Hartid: i}
		cpus[i] = c
		g.Go(func() error {
			return pt.Runhart(gctx, c)
		})
	}
	return g, cpus
}

// Sched gives up the hart p is running on, to be resumed later via
// Enqueue (for RUNNABLE) or Wakeup (for SLEEPING). Callers must have
// already installed a fresh p.resume and set p.State to its next value,
// both under p's own lock, before releasing every lock except p's own
// and calling Sched - the old channel must never be reachable from
// Wakeup or Enqueue by the time callers let go of p's lock, since a
// hart could dequeue p and close p.resume before Sched ever runs.
func (p *Proc_t) Sched() {
	p.yield <- struct{}{}
	<-p.resume
}

// Run starts p's goroutine executing body, blocking first until some
// hart's Runhart schedules p for the first time. body should call
// p.Sched() at every point the teacher would call sched()/swtch(): a
// blocking sleep, a voluntary yield, or process exit.
func (p *Proc_t) Run(body func()) {
	go func() {
		<-p.resume
		body()
	}()
}

// Yield voluntarily gives up the remainder of the current time slice.
func (pt *Ptable_t) Yield(p *Proc_t) {
	p.Lock()
	p.resume = make(chan struct{})
	p.State = RUNNABLE
	p.Unlock()
	p.Sched()
}
