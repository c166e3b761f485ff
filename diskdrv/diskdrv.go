// Package diskdrv implements the one block device this kernel drives:
// a fixed-size file standing in for the spec's virtio-mmio disk, which
// is itself an out-of-scope external collaborator (spec.md §1) — the
// kernel only needs something that satisfies bcache.Disk_i, not a real
// virtio queue. Grounded on the teacher's ufs/driver.go ahci_disk_t,
// which plays exactly this role (a simulated, file-backed disk) in the
// teacher's own test harness.
package diskdrv

import (
	"os"
	"sync"

	"riscvkern/bcache"
)

// FileDisk_t serves block-cache requests against an *os.File, seeking
// to block*BSIZE before each read/write exactly as ahci_disk_t does.
type FileDisk_t struct {
	sync.Mutex
	f *os.File
}

// Open opens (creating if necessary) path as a block device image of
// nblocks blocks, zero-extending it if it is shorter.
func Open(path string, nblocks int) (*FileDisk_t, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	want := int64(nblocks) * bcache.BSIZE
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() < want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &FileDisk_t{f: f}, nil
}

// Start services a single block read or write request synchronously,
// acking on req.AckCh before returning, so AckCh needs room for one
// value (the cache's requests use a one-slot buffer). It always returns
// true; Bdev_block_t.Read/Write wait on the ack only when Start returns
// true. The bool result is kept to match the teacher's Disk_i shape.
func (d *FileDisk_t) Start(req *bcache.Bdev_req_t) bool {
	d.Lock()
	defer d.Unlock()

	off := int64(req.Block) * bcache.BSIZE
	switch req.Cmd {
	case bcache.BDEV_READ:
		if _, err := d.f.ReadAt(req.Data[:], off); err != nil {
			panic(err)
		}
	case bcache.BDEV_WRITE:
		if _, err := d.f.WriteAt(req.Data[:], off); err != nil {
			panic(err)
		}
	}
	req.AckCh <- true
	return true
}

// Close flushes and closes the backing file.
func (d *FileDisk_t) Close() error {
	d.Lock()
	defer d.Unlock()
	if err := d.f.Sync(); err != nil {
		return err
	}
	return d.f.Close()
}

// MemDisk_t is an in-memory Disk_i, used by tests that don't want a
// filesystem-backed temp file.
type MemDisk_t struct {
	sync.Mutex
	blocks map[int]*[bcache.BSIZE]uint8
}

// MkMemDisk constructs an empty in-memory disk; unwritten blocks read
// as zero.
func MkMemDisk() *MemDisk_t {
	return &MemDisk_t{blocks: make(map[int]*[bcache.BSIZE]uint8)}
}

func (d *MemDisk_t) Start(req *bcache.Bdev_req_t) bool {
	d.Lock()
	defer d.Unlock()

	switch req.Cmd {
	case bcache.BDEV_READ:
		if b, ok := d.blocks[req.Block]; ok {
			*req.Data = *b
		} else {
			*req.Data = [bcache.BSIZE]uint8{}
		}
	case bcache.BDEV_WRITE:
		cp := *req.Data
		d.blocks[req.Block] = &cp
	}
	req.AckCh <- true
	return true
}
