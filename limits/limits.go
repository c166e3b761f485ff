// Package limits tracks system-wide resource caps, trimmed from the
// teacher's Syslimit_t down to the resources this kernel actually
// manages (no networking: ARP/route/TCP caps are dropped).
package limits

import "sync/atomic"

// Sysatomic_t is a numeric limit that can be atomically given/taken.
type Sysatomic_t int64

// Given increases the limit by n.
func (s *Sysatomic_t) Given(n int64) {
	if n < 0 {
		panic("negative give")
	}
	atomic.AddInt64((*int64)(s), n)
}

// Taken tries to decrement the limit by n; returns false and leaves the
// limit unchanged if doing so would go negative.
func (s *Sysatomic_t) Taken(n int64) bool {
	if n < 0 {
		panic("negative take")
	}
	if atomic.AddInt64((*int64)(s), -n) >= 0 {
		return true
	}
	atomic.AddInt64((*int64)(s), n)
	return false
}

// Take decrements the limit by one.
func (s *Sysatomic_t) Take() bool { return s.Taken(1) }

// Give increments the limit by one.
func (s *Sysatomic_t) Give() { s.Given(1) }

// Syslimit_t holds the configured resource caps.
type Syslimit_t struct {
	Procs   int64 // process-table slots
	Ofiles  int64 // open-file-table slots, system wide
	Inodes  int64 // in-memory inode-cache slots
	Bufs    int64 // block-cache buffers
	Pipes   Sysatomic_t
	LogSize int64 // log region length in blocks
}

// MkSysLimit returns the default resource caps.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Procs:   64,
		Ofiles:  1024,
		Inodes:  512,
		Bufs:    128,
		Pipes:   Sysatomic_t(256),
		LogSize: 30,
	}
}

// Syslimit is the global set of resource caps in effect.
var Syslimit = MkSysLimit()
