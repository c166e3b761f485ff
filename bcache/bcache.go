// Package bcache implements the bounded block cache: a fixed number of
// disk-block buffers shared by the log and the inode layer, evicted
// least-recently-used when the cache is full. Grounded on the teacher's
// fs/blk.go (Bdev_block_t, BlkList_t, Disk_i) generalized from an
// x86-PC-AHCI-backed cache into one that works over any diskdrv.Disk_i
// and is sized from limits.Syslimit.Bufs instead of a hardcoded count.
package bcache

import (
	"container/list"
	"sync"

	"riscvkern/defs"
	"riscvkern/lock"
	"riscvkern/limits"
	"riscvkern/stats"
)

// CacheStats counts cache activity across every Bcache_t in the
// process, dumped by /dev/stat via stats.Stats2String.
var CacheStats struct {
	Hits      stats.Counter_t
	Misses    stats.Counter_t
	Evictions stats.Counter_t
}

// BSIZE is the size of a disk block in bytes.
const BSIZE = 4096

// Bdevcmd_t enumerates disk request types.
type Bdevcmd_t uint

const (
	BDEV_WRITE Bdevcmd_t = 1
	BDEV_READ  Bdevcmd_t = 2
)

// Bdev_req_t is a single request handed to a Disk_i.
type Bdev_req_t struct {
	Cmd   Bdevcmd_t
	Block int
	Data  *[BSIZE]uint8
	AckCh chan bool
}

// Disk_i abstracts the block device backing the cache.
type Disk_i interface {
	Start(*Bdev_req_t) bool
}

// Bdev_block_t is one cached disk block.
type Bdev_block_t struct {
	sleep lock.Sleeplock_t
	Block int
	Data  *[BSIZE]uint8
	disk  Disk_i
	dirty bool
	pin   int
}

// Lock/Unlock take and release the block's sleep lock; callers must
// hold it across a read-modify-write of Data.
func (b *Bdev_block_t) Lock(holder interface{}) { b.sleep.Acquire(holder) }
func (b *Bdev_block_t) Unlock()                 { b.sleep.Release() }

// Write synchronously writes the block's contents to disk.
func (b *Bdev_block_t) Write() {
	req := &Bdev_req_t{Cmd: BDEV_WRITE, Block: b.Block, Data: b.Data, AckCh: make(chan bool, 1)}
	if b.disk.Start(req) {
		<-req.AckCh
	}
	b.dirty = false
}

// Read synchronously reads the block's contents from disk.
func (b *Bdev_block_t) Read() {
	req := &Bdev_req_t{Cmd: BDEV_READ, Block: b.Block, Data: b.Data, AckCh: make(chan bool, 1)}
	if b.disk.Start(req) {
		<-req.AckCh
	}
}

// Dirty marks the block as modified since its last write to disk.
func (b *Bdev_block_t) Dirty()       { b.dirty = true }
func (b *Bdev_block_t) IsDirty() bool { return b.dirty }

// Bcache_t is the LRU-bounded block cache.
type Bcache_t struct {
	sync.Mutex
	disk   Disk_i
	max    int
	lru    *list.List // front = most recently used
	lookup map[int]*list.Element
}

// MkCache constructs an empty cache of at most limits.Syslimit.Bufs
// buffers, backed by disk.
func MkCache(disk Disk_i) *Bcache_t {
	return &Bcache_t{
		disk:   disk,
		max:    int(limits.Syslimit.Bufs),
		lru:    list.New(),
		lookup: make(map[int]*list.Element),
	}
}

// Get_zero returns the buffer for block number n, zero-filled, without
// reading it from disk (the caller is about to overwrite it entirely).
// The buffer is returned locked.
func (bc *Bcache_t) Get_zero(n int, holder interface{}) (*Bdev_block_t, defs.Err_t) {
	b, err := bc.getOrAlloc(n, holder)
	if err != 0 {
		return nil, err
	}
	*b.Data = [BSIZE]uint8{}
	return b, 0
}

// Get_fill returns the buffer for block number n, reading it from disk
// first if it was not already cached. The buffer is returned locked.
func (bc *Bcache_t) Get_fill(n int, holder interface{}) (*Bdev_block_t, defs.Err_t) {
	b, fresh, err := bc.getOrAllocFresh(n, holder)
	if err != 0 {
		return nil, err
	}
	if fresh {
		b.Read()
	}
	return b, 0
}

func (bc *Bcache_t) getOrAlloc(n int, holder interface{}) (*Bdev_block_t, defs.Err_t) {
	b, _, err := bc.getOrAllocFresh(n, holder)
	return b, err
}

func (bc *Bcache_t) getOrAllocFresh(n int, holder interface{}) (*Bdev_block_t, bool, defs.Err_t) {
	bc.Lock()
	if e, ok := bc.lookup[n]; ok {
		bc.lru.MoveToFront(e)
		b := e.Value.(*Bdev_block_t)
		bc.Unlock()
		CacheStats.Hits.Inc()
		b.Lock(holder)
		return b, false, 0
	}
	if bc.lru.Len() >= bc.max {
		if !bc.evict() {
			bc.Unlock()
			return nil, false, -defs.ENOMEM
		}
	}
	b := &Bdev_block_t{Block: n, Data: &[BSIZE]uint8{}, disk: bc.disk}
	e := bc.lru.PushFront(b)
	bc.lookup[n] = e
	bc.Unlock()
	CacheStats.Misses.Inc()
	b.Lock(holder)
	return b, true, 0
}

// evict drops the least-recently-used unpinned, non-dirty block.
// Callers hold bc's lock.
func (bc *Bcache_t) evict() bool {
	for e := bc.lru.Back(); e != nil; e = e.Prev() {
		b := e.Value.(*Bdev_block_t)
		if b.pin == 0 && !b.dirty {
			bc.lru.Remove(e)
			delete(bc.lookup, b.Block)
			CacheStats.Evictions.Inc()
			return true
		}
	}
	return false
}

// Pin keeps a block resident (immune to eviction) until Unpin, used by
// the log to hold dirty blocks until they've been committed.
func (bc *Bcache_t) Pin(b *Bdev_block_t) {
	bc.Lock()
	b.pin++
	bc.Unlock()
}

// Unpin releases a pin taken by Pin.
func (bc *Bcache_t) Unpin(b *Bdev_block_t) {
	bc.Lock()
	b.pin--
	if b.pin < 0 {
		panic("unbalanced pin/unpin")
	}
	bc.Unlock()
}

// Release unlocks a block previously returned by Get_zero/Get_fill.
func (bc *Bcache_t) Release(b *Bdev_block_t) {
	b.Unlock()
}

// Len reports the number of blocks currently cached, for tests.
func (bc *Bcache_t) Len() int {
	bc.Lock()
	defer bc.Unlock()
	return bc.lru.Len()
}
