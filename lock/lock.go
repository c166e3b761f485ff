// Package lock provides the two lock flavors the rest of the kernel
// builds on: Spinlock_t, a short-held mutual-exclusion lock with a
// per-lock depth counter, and Sleeplock_t, a longer-held lock built on
// a sync.Mutex plus a one-slot channel, for holding a disk buffer or
// inode across an I/O. Neither keeps per-hart state: acquiring a lock
// disables nothing, there is no per-hart interrupt-disable nesting
// depth, and re-acquiring a Spinlock_t already held blocks rather than
// panicking.
//
// The teacher embeds a plain sync.Mutex directly in structures like
// Bdev_block_t (see fs/blk.go); this package generalizes that idiom
// into named lock types so the locking contracts have one place to
// live.
package lock

import "sync"

// Spinlock_t is a mutual-exclusion lock meant to be held only across a
// few instructions. depth counts how many times this lock is held (0 or
// 1); it belongs to the lock, not to a hart, and taking the lock does
// not disable interrupts or anything else.
type Spinlock_t struct {
	mu    sync.Mutex
	depth int
}

// Lock acquires the spinlock and increments its depth.
func (l *Spinlock_t) Lock() {
	l.mu.Lock()
	l.depth++
}

// Unlock decrements the lock's depth and releases it.
func (l *Spinlock_t) Unlock() {
	l.depth--
	l.mu.Unlock()
}

// Sleeplock_t is held across a blocking operation (e.g. disk I/O):
// acquiring it may itself block the caller, parked on a channel, while
// the lock is held by someone else.
type Sleeplock_t struct {
	mu  sync.Mutex
	ch  chan struct{}
	who interface{}
}

// init creates the one-slot channel on first use. The holder token
// passed to Acquire only records who holds the lock (fs passes its
// *Fs_t); Acquire waits on the channel before it compares holders, so
// a second Acquire by the current holder blocks until Release rather
// than panicking.
func (l *Sleeplock_t) init() {
	if l.ch == nil {
		l.ch = make(chan struct{}, 1)
	}
}

// Acquire blocks until the lock is free, then takes it on behalf of
// holder.
func (l *Sleeplock_t) Acquire(holder interface{}) {
	l.mu.Lock()
	l.init()
	l.mu.Unlock()

	l.ch <- struct{}{}

	l.mu.Lock()
	if l.who == holder && holder != nil {
		l.mu.Unlock()
		panic("sleeplock: re-acquire by same holder")
	}
	l.who = holder
	l.mu.Unlock()
}

// Release gives the lock up.
func (l *Sleeplock_t) Release() {
	l.mu.Lock()
	l.who = nil
	l.mu.Unlock()
	<-l.ch
}

// Holder returns the current holder token, or nil if unlocked.
func (l *Sleeplock_t) Holder() interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.who
}
