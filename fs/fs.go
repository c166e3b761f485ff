package fs

import (
	"sync"

	"riscvkern/bcache"
	"riscvkern/defs"
	"riscvkern/stat"
	"riscvkern/ustr"
	"riscvkern/walog"
)

// Cwd_t is a process's current-working-directory handle, passed into
// every path-resolving operation so Fs_open et al. need not know about
// the process table.
type Cwd_t struct {
	Root *Inode_t
	Cwd  *Inode_t
}

// Fs_t is the whole crash-consistent filesystem: superblock, block
// cache, write-ahead log, and in-memory inode cache, wired together the
// way ufs/ufs.go's Ufs_t wraps them, generalized from that file's
// single hardcoded disk into any bcache.Disk_i.
type Fs_t struct {
	sync.Mutex
	dev  int
	bc   *bcache.Bcache_t
	log  *walog.Log_t
	sb   *Superblock_t
	ic   *icache_t
	free *bitmap_t
}

// MkFS mounts (or, if fresh is true, formats) a filesystem over disk,
// recovering the log first.
func MkFS(dev int, disk bcache.Disk_i, nblocks, logLen, inodeLen, bitmapLen int, fresh bool) *Fs_t {
	bc := bcache.MkCache(disk)
	fs := &Fs_t{dev: dev, bc: bc, ic: newIcache()}

	fs.sb = &Superblock_t{Data: &[bcache.BSIZE]uint8{}}
	sbBlk := fs.getBlock(1)
	if fresh {
		fs.sb.Data = sbBlk.Data
		fs.sb.SetSize(nblocks)
		fs.sb.SetLogStart(2)
		fs.sb.SetLogLen(logLen)
		fs.sb.SetInodeStart(2 + logLen)
		fs.sb.SetInodeLen(inodeLen)
		fs.sb.SetBitmapStart(2 + logLen + inodeLen)
		fs.sb.SetBitmapLen(bitmapLen)
		fs.sb.SetDataStart(2 + logLen + inodeLen + bitmapLen)
		fs.sb.SetRootInum(1)
		sbBlk.Write()
	} else {
		fs.sb.Data = sbBlk.Data
	}
	fs.release(sbBlk)

	fs.log = walog.MkLog(bc, fs.sb.LogStart(), fs.sb.LogLen())
	fs.free = &bitmap_t{start: fs.sb.BitmapStart(), len: fs.sb.BitmapLen(), dataStart: fs.sb.DataStart(), nblocks: nblocks - fs.sb.DataStart(), fs: fs}

	if !fresh {
		fs.log.Recover(fs.getBlock, fs.release)
	} else {
		fs.mkRoot()
	}
	return fs
}

// Root returns a fresh reference to the filesystem's root inode, for
// boot-time Cwd_t construction (namex can't resolve "/" until a
// Cwd_t.Root already exists).
func (fs *Fs_t) Root() *Inode_t { return fs.iget(fs.sb.RootInum()) }

// BeginOp/EndOp let callers outside this package (cmd/mkfs building an
// image offline, cmd/kernel forcing a sync) bracket their own
// multi-write transactions the same way every Fs_* operation above
// does internally.
func (fs *Fs_t) BeginOp() { fs.log.Begin_op() }
func (fs *Fs_t) EndOp()   { fs.log.End_op(fs.getBlock, fs.release) }

func (fs *Fs_t) getBlock(n int) *bcache.Bdev_block_t {
	b, err := fs.bc.Get_fill(n, fs)
	if err != 0 {
		panic("disk exhausted")
	}
	return b
}

func (fs *Fs_t) getBlockZero(n int) *bcache.Bdev_block_t {
	b, err := fs.bc.Get_zero(n, fs)
	if err != 0 {
		panic("disk exhausted")
	}
	return b
}

func (fs *Fs_t) release(b *bcache.Bdev_block_t) { fs.bc.Release(b) }

func (fs *Fs_t) logWrite(b *bcache.Bdev_block_t) { fs.log.Log_write(b) }

func (fs *Fs_t) mkRoot() {
	fs.log.Begin_op()
	root := fs.ialloc(defs.I_DIR)
	root.Nlink = 1
	fs.iupdate(root)
	fs.dirlink(root, ustr.MkUstrDot(), root.Inum)
	fs.dirlink(root, ustr.DotDot, root.Inum)
	root.Nlink++
	fs.iupdate(root)
	fs.log.End_op(fs.getBlock, fs.release)
	fs.iput(root)
}

// ialloc allocates a fresh inode of the given type and returns it
// referenced (refs 1) and unlocked (caller must Lock it before further
// use), with Nlink 0.
func (fs *Fs_t) ialloc(itype defs.Itype_t) *Inode_t {
	for inum := 1; inum < fs.sb.InodeLen()*IPB; inum++ {
		blk, off := Inodeblock(fs.sb, inum)
		b := fs.getBlock(blk)
		var tmp Inode_t
		tmp.decode(b.Data, off)
		if tmp.Type == defs.I_NONE {
			tmp.Type = itype
			tmp.Inum = inum
			tmp.Dev = fs.dev
			tmp.encode(b.Data, off)
			fs.logWrite(b)
			fs.release(b)
			ip := &Inode_t{Dev: fs.dev, Inum: inum, Type: itype, refs: 1}
			fs.ic.put(ip)
			return ip
		}
		fs.release(b)
	}
	panic("out of inodes")
}

func (fs *Fs_t) iget(inum int) *Inode_t {
	fs.ic.Lock()
	if ip, ok := fs.ic.get(fs.dev, inum); ok {
		ip.refs++
		fs.ic.Unlock()
		return ip
	}
	blk, off := Inodeblock(fs.sb, inum)
	b := fs.getBlock(blk)
	ip := &Inode_t{Dev: fs.dev, Inum: inum, refs: 1}
	ip.decode(b.Data, off)
	fs.release(b)
	fs.ic.put(ip)
	fs.ic.Unlock()
	return ip
}

func (fs *Fs_t) iupdate(ip *Inode_t) {
	blk, off := Inodeblock(fs.sb, ip.Inum)
	b := fs.getBlock(blk)
	ip.encode(b.Data, off)
	fs.logWrite(b)
	fs.release(b)
}

// iput drops a reference; when it reaches zero and Nlink is also zero
// the inode and all its data blocks are freed.
func (fs *Fs_t) iput(ip *Inode_t) {
	fs.ic.Lock()
	ip.refs--
	freeit := ip.refs == 0 && ip.Nlink == 0
	if ip.refs == 0 {
		fs.ic.del(ip)
	}
	fs.ic.Unlock()
	if freeit {
		fs.log.Begin_op()
		fs.itrunc(ip)
		ip.Type = defs.I_NONE
		fs.iupdate(ip)
		fs.log.End_op(fs.getBlock, fs.release)
	}
}

// itrunc frees every data block (direct and single-indirect) owned by
// ip and resets its size to zero.
func (fs *Fs_t) itrunc(ip *Inode_t) {
	for i := 0; i < NDIRECT; i++ {
		if ip.Direct[i] != 0 {
			fs.free.put(ip.Direct[i])
			ip.Direct[i] = 0
		}
	}
	if ip.Indir != 0 {
		ind := fs.getBlock(ip.Indir)
		for i := 0; i < ptrsPerBlock; i++ {
			if bn := readWord(ind.Data, i); bn != 0 {
				fs.free.put(bn)
			}
		}
		fs.release(ind)
		fs.free.put(ip.Indir)
		ip.Indir = 0
	}
	ip.Size = 0
	fs.iupdate(ip)
}

func readWord(d *[bcache.BSIZE]uint8, i int) int { return fieldr(d, i) }

func (fs *Fs_t) allocBlockFor(ip *Inode_t) func() (int, defs.Err_t) {
	return func() (int, defs.Err_t) {
		bn, ok := fs.free.get()
		if !ok {
			return 0, -defs.ENOSPC
		}
		b := fs.getBlockZero(bn)
		fs.logWrite(b)
		fs.release(b)
		return bn, 0
	}
}

// Read reads up to len(dst) bytes from ip starting at off.
func (fs *Fs_t) Read(ip *Inode_t, dst []uint8, off int) (int, defs.Err_t) {
	if off >= ip.Size {
		return 0, 0
	}
	n := len(dst)
	if off+n > ip.Size {
		n = ip.Size - off
	}
	got := 0
	for got < n {
		bn := (off + got) / bcache.BSIZE
		boff := (off + got) % bcache.BSIZE
		blkno, err := ip.Bmap(bn, false, fs.allocBlockFor(ip), fs.getBlock, fs.release, fs.logWrite)
		if err != 0 {
			return got, err
		}
		c := bcache.BSIZE - boff
		if c > n-got {
			c = n - got
		}
		if blkno == 0 {
			for i := 0; i < c; i++ {
				dst[got+i] = 0
			}
		} else {
			b := fs.getBlock(blkno)
			copy(dst[got:got+c], b.Data[boff:boff+c])
			fs.release(b)
		}
		got += c
	}
	return got, 0
}

// Write writes src into ip starting at off, growing ip (and allocating
// new blocks) as needed. Every written block is logged, so the caller
// must be inside a Begin_op/End_op pair.
func (fs *Fs_t) Write(ip *Inode_t, src []uint8, off int) (int, defs.Err_t) {
	wrote := 0
	for wrote < len(src) {
		bn := (off + wrote) / bcache.BSIZE
		boff := (off + wrote) % bcache.BSIZE
		blkno, err := ip.Bmap(bn, true, fs.allocBlockFor(ip), fs.getBlock, fs.release, fs.logWrite)
		if err != 0 {
			return wrote, err
		}
		c := bcache.BSIZE - boff
		if c > len(src)-wrote {
			c = len(src) - wrote
		}
		b := fs.getBlock(blkno)
		copy(b.Data[boff:boff+c], src[wrote:wrote+c])
		fs.logWrite(b)
		fs.release(b)
		wrote += c
	}
	if off+wrote > ip.Size {
		ip.Size = off + wrote
	}
	fs.iupdate(ip)
	return wrote, 0
}

// Stat fills a stat.Stat_t describing ip.
func (fs *Fs_t) Stat(ip *Inode_t, st *stat.Stat_t) {
	st.Wdev(uint(ip.Dev))
	st.Wino(uint(ip.Inum))
	st.Wmode(uint(ip.Type))
	st.Wsize(uint(ip.Size))
	st.Wnlink(uint(ip.Nlink))
	st.Wrdev(uint(defs.Mkdev(ip.Major, ip.Minor)))
}

// Fs_sync flushes the log's outstanding group without forcing a new
// empty transaction; used by the fsync family of syscalls.
func (fs *Fs_t) Fs_sync() defs.Err_t {
	fs.log.Begin_op()
	fs.log.End_op(fs.getBlock, fs.release)
	return 0
}

// Fs_syncapply is an alias kept for the teacher's naming: in this
// kernel there is no separate log-apply phase to force, since commit
// always applies synchronously (see walog.Log_t.commit).
func (fs *Fs_t) Fs_syncapply() defs.Err_t { return fs.Fs_sync() }
