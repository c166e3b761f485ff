package fs

import (
	"sync"

	"riscvkern/bcache"
	"riscvkern/defs"
	"riscvkern/hashtable"
	"riscvkern/lock"
	"riscvkern/util"
)

// NDIRECT is the number of direct block pointers an inode carries;
// the Indir field adds one single-indirect block, per the explicit
// Non-goal of never needing a double-indirect block.
const NDIRECT = 10

// ptrsPerBlock is the number of 8-byte block numbers an indirect block holds.
const ptrsPerBlock = bcache.BSIZE / 8
const inodeWords = 5 + NDIRECT + 1 // type,major,minor,nlink,size,direct...,indirect
const inodeBytes = inodeWords * 8

// IPB is the number of on-disk inode slots per block.
const IPB = bcache.BSIZE / inodeBytes

// dinode field offsets, in 8-byte words within its inodeBytes slot.
const (
	diType = 0
	diMajor = 1
	diMinor = 2
	diNlink = 3
	diSize  = 4
	diDirect = 5 // through diDirect+NDIRECT-1
)
const diIndirect = diDirect + NDIRECT

// Inodeblock maps inode number inum to the block containing its
// on-disk slot, and byteOff to its byte offset within that block.
func Inodeblock(sb *Superblock_t, inum int) (blk int, byteOff int) {
	blk = sb.InodeStart() + inum/IPB
	byteOff = (inum % IPB) * inodeBytes
	return
}

// Inode_t is the in-memory, reference-counted cache entry for one
// on-disk inode. Fields mirror the on-disk dinode; changes reach disk
// only when iupdate writes them back through the log.
type Inode_t struct {
	sleep lock.Sleeplock_t

	Dev  int
	Inum int

	Type   defs.Itype_t
	Major  int
	Minor  int
	Nlink  int
	Size   int
	Direct [NDIRECT]int
	Indir  int

	refs int
}

func (ip *Inode_t) Lock(holder interface{}) { ip.sleep.Acquire(holder) }
func (ip *Inode_t) Unlock()                 { ip.sleep.Release() }

// decode fills ip's fields from the inodeBytes-sized slot at off in
// block data.
func (ip *Inode_t) decode(data *[bcache.BSIZE]uint8, off int) {
	r := func(i int) int { return util.Readn(data[:], 8, off+8*i) }
	ip.Type = defs.Itype_t(r(diType))
	ip.Major = r(diMajor)
	ip.Minor = r(diMinor)
	ip.Nlink = r(diNlink)
	ip.Size = r(diSize)
	for i := 0; i < NDIRECT; i++ {
		ip.Direct[i] = r(diDirect + i)
	}
	ip.Indir = r(diIndirect)
}

// encode writes ip's fields into the inodeBytes-sized slot at off in
// block data.
func (ip *Inode_t) encode(data *[bcache.BSIZE]uint8, off int) {
	w := func(i, v int) { util.Writen(data[:], 8, off+8*i, v) }
	w(diType, int(ip.Type))
	w(diMajor, ip.Major)
	w(diMinor, ip.Minor)
	w(diNlink, ip.Nlink)
	w(diSize, ip.Size)
	for i := 0; i < NDIRECT; i++ {
		w(diDirect+i, ip.Direct[i])
	}
	w(diIndirect, ip.Indir)
}

// Bmap returns the disk block number holding byte offset bn*BSIZE of
// ip's data, allocating a new block (and, if needed, the single
// indirect block) when alloc is true and the slot is currently empty.
func (ip *Inode_t) Bmap(bn int, alloc bool, allocBlock func() (int, defs.Err_t), get func(int) *bcache.Bdev_block_t, release func(*bcache.Bdev_block_t), log func(*bcache.Bdev_block_t)) (int, defs.Err_t) {
	if bn < NDIRECT {
		if ip.Direct[bn] == 0 {
			if !alloc {
				return 0, 0
			}
			blkno, err := allocBlock()
			if err != 0 {
				return 0, err
			}
			ip.Direct[bn] = blkno
		}
		return ip.Direct[bn], 0
	}
	bn -= NDIRECT
	if bn >= ptrsPerBlock {
		return 0, -defs.EINVAL
	}
	if ip.Indir == 0 {
		if !alloc {
			return 0, 0
		}
		blkno, err := allocBlock()
		if err != 0 {
			return 0, err
		}
		ip.Indir = blkno
	}
	ind := get(ip.Indir)
	blkno := util.Readn(ind.Data[:], 8, 8*bn)
	if blkno == 0 {
		if !alloc {
			release(ind)
			return 0, 0
		}
		nb, err := allocBlock()
		if err != 0 {
			release(ind)
			return 0, err
		}
		util.Writen(ind.Data[:], 8, 8*bn, nb)
		log(ind)
		blkno = nb
	}
	release(ind)
	return blkno, 0
}

// icache_t is the in-memory inode cache, content-addressed by
// (dev, inum), mirroring the teacher's cache-by-key convention (see
// package hashtable) generalized with the Devino_t composite key this
// kernel's single-device-per-mount model needs.
type icache_t struct {
	sync.Mutex
	ht *hashtable.Hashtable_t
}

func newIcache() *icache_t {
	return &icache_t{ht: hashtable.MkHash(64)}
}

func (ic *icache_t) get(dev, inum int) (*Inode_t, bool) {
	v, ok := ic.ht.Get(hashtable.Devino_t{Dev: dev, Inum: inum})
	if !ok {
		return nil, false
	}
	return v.(*Inode_t), true
}

func (ic *icache_t) put(ip *Inode_t) {
	ic.ht.Set(hashtable.Devino_t{Dev: ip.Dev, Inum: ip.Inum}, ip)
}

func (ic *icache_t) del(ip *Inode_t) {
	ic.ht.Del(hashtable.Devino_t{Dev: ip.Dev, Inum: ip.Inum})
}
