// Package fs implements the inode layer, directory layer, and path
// resolution on top of the block cache and write-ahead log: the
// crash-consistent filesystem proper. Grounded on the teacher's
// fs/super.go fixed-offset field accessor idiom (util.Readn/Writen
// over a block's bytes) and on ufs/ufs.go's Fs_* top-level operation
// names, since the teacher's own inode/directory/path-walk source was
// not retrieved into the example pack and so is rebuilt here from the
// spec and that naming convention.
package fs

import (
	"riscvkern/bcache"
	"riscvkern/util"
)

// Superblock_t is the on-disk layout describing where every other
// region of the filesystem lives, packed as 8-byte little-endian words
// into block 1 (block 0 is reserved as the boot block, matching the
// teacher's sector numbering).
type Superblock_t struct {
	Data *[bcache.BSIZE]uint8
}

const (
	sbSize      = 0 // total blocks on the device
	sbLogStart  = 1
	sbLogLen    = 2
	sbInodeStart = 3
	sbInodeLen  = 4
	sbBitmapStart = 5
	sbBitmapLen = 6
	sbDataStart = 7
	sbRootInum  = 8
)

func (sb *Superblock_t) Size() int         { return fieldr(sb.Data, sbSize) }
func (sb *Superblock_t) LogStart() int     { return fieldr(sb.Data, sbLogStart) }
func (sb *Superblock_t) LogLen() int       { return fieldr(sb.Data, sbLogLen) }
func (sb *Superblock_t) InodeStart() int   { return fieldr(sb.Data, sbInodeStart) }
func (sb *Superblock_t) InodeLen() int     { return fieldr(sb.Data, sbInodeLen) }
func (sb *Superblock_t) BitmapStart() int  { return fieldr(sb.Data, sbBitmapStart) }
func (sb *Superblock_t) BitmapLen() int    { return fieldr(sb.Data, sbBitmapLen) }
func (sb *Superblock_t) DataStart() int    { return fieldr(sb.Data, sbDataStart) }
func (sb *Superblock_t) RootInum() int     { return fieldr(sb.Data, sbRootInum) }

func (sb *Superblock_t) SetSize(v int)         { fieldw(sb.Data, sbSize, v) }
func (sb *Superblock_t) SetLogStart(v int)     { fieldw(sb.Data, sbLogStart, v) }
func (sb *Superblock_t) SetLogLen(v int)       { fieldw(sb.Data, sbLogLen, v) }
func (sb *Superblock_t) SetInodeStart(v int)   { fieldw(sb.Data, sbInodeStart, v) }
func (sb *Superblock_t) SetInodeLen(v int)     { fieldw(sb.Data, sbInodeLen, v) }
func (sb *Superblock_t) SetBitmapStart(v int)  { fieldw(sb.Data, sbBitmapStart, v) }
func (sb *Superblock_t) SetBitmapLen(v int)    { fieldw(sb.Data, sbBitmapLen, v) }
func (sb *Superblock_t) SetDataStart(v int)    { fieldw(sb.Data, sbDataStart, v) }
func (sb *Superblock_t) SetRootInum(v int)     { fieldw(sb.Data, sbRootInum, v) }

func fieldr(d *[bcache.BSIZE]uint8, i int) int {
	return util.Readn(d[:], 8, 8*i)
}

func fieldw(d *[bcache.BSIZE]uint8, i int, v int) {
	util.Writen(d[:], 8, 8*i, v)
}
