package fs

import (
	"riscvkern/defs"
	"riscvkern/stat"
	"riscvkern/ustr"
)

// Fs_open resolves path and returns its (referenced, unlocked) inode,
// creating a new regular file there first if flags carries O_CREAT and
// no such path exists. O_TRUNC on an existing file truncates its
// content to zero length; O_TRUNC|O_CREAT together is accepted as a
// no-op combination on a freshly created (and therefore already empty)
// file, matching this kernel's resolution of that ambiguity.
func (fs *Fs_t) Fs_open(path ustr.Ustr, flags int, mode int, cwd *Cwd_t) (*Inode_t, defs.Err_t) {
	creat := flags&defs.O_CREAT != 0
	if !creat {
		ip, _, err := fs.namex(path, cwd, false)
		if err != 0 {
			return nil, err
		}
		if flags&defs.O_TRUNC != 0 && ip.Type == defs.I_FILE {
			fs.log.Begin_op()
			ip.Lock(fs)
			fs.itrunc(ip)
			ip.Unlock()
			fs.log.End_op(fs.getBlock, fs.release)
		}
		return ip, 0
	}

	fs.log.Begin_op()
	dir, name, err := fs.namex(path, cwd, true)
	if err != 0 {
		fs.log.End_op(fs.getBlock, fs.release)
		return nil, err
	}
	dir.Lock(fs)
	if existing, _, ok := fs.dirlookup(dir, name); ok {
		dir.Unlock()
		fs.iput(dir)
		if flags&defs.O_TRUNC != 0 && existing.Type == defs.I_FILE {
			existing.Lock(fs)
			fs.itrunc(existing)
			existing.Unlock()
		}
		fs.log.End_op(fs.getBlock, fs.release)
		return existing, 0
	}
	ip := fs.ialloc(defs.I_FILE)
	ip.Nlink = 1
	fs.iupdate(ip)
	if err := fs.dirlink(dir, name, ip.Inum); err != 0 {
		dir.Unlock()
		fs.iput(dir)
		fs.iput(ip)
		fs.log.End_op(fs.getBlock, fs.release)
		return nil, err
	}
	dir.Unlock()
	fs.iput(dir)
	fs.log.End_op(fs.getBlock, fs.release)
	return ip, 0
}

// Fs_mkdir creates a new, empty directory at path.
func (fs *Fs_t) Fs_mkdir(path ustr.Ustr, mode int, cwd *Cwd_t) defs.Err_t {
	fs.log.Begin_op()
	dir, name, err := fs.namex(path, cwd, true)
	if err != 0 {
		fs.log.End_op(fs.getBlock, fs.release)
		return err
	}
	dir.Lock(fs)
	if _, _, ok := fs.dirlookup(dir, name); ok {
		dir.Unlock()
		fs.iput(dir)
		fs.log.End_op(fs.getBlock, fs.release)
		return -defs.EEXIST
	}
	ndir := fs.ialloc(defs.I_DIR)
	ndir.Nlink = 1
	fs.iupdate(ndir)
	fs.dirlink(ndir, ustr.MkUstrDot(), ndir.Inum)
	fs.dirlink(ndir, ustr.DotDot, dir.Inum)
	if err := fs.dirlink(dir, name, ndir.Inum); err != 0 {
		dir.Unlock()
		fs.iput(dir)
		fs.iput(ndir)
		fs.log.End_op(fs.getBlock, fs.release)
		return err
	}
	// the child's ".." entry is one more link to dir; Fs_unlink drops
	// it again when the child directory is removed.
	dir.Nlink++
	fs.iupdate(dir)
	dir.Unlock()
	fs.iput(dir)
	fs.iput(ndir)
	fs.log.End_op(fs.getBlock, fs.release)
	return 0
}

// Fs_unlink removes the directory entry at path, freeing its inode
// once both its link count and open-reference count reach zero. An
// inode unlinked while still open by some process stays allocated
// (Nlink 0, refs > 0) until its last close, which is when iput frees
// it.
func (fs *Fs_t) Fs_unlink(path ustr.Ustr, cwd *Cwd_t) defs.Err_t {
	fs.log.Begin_op()
	dir, name, err := fs.namex(path, cwd, true)
	if err != 0 {
		fs.log.End_op(fs.getBlock, fs.release)
		return err
	}
	if name.Isdot() || name.Isdotdot() {
		fs.iput(dir)
		fs.log.End_op(fs.getBlock, fs.release)
		return -defs.EPERM
	}
	dir.Lock(fs)
	ip, off, ok := fs.dirlookup(dir, name)
	if !ok {
		dir.Unlock()
		fs.iput(dir)
		fs.log.End_op(fs.getBlock, fs.release)
		return -defs.ENOENT
	}
	ip.Lock(fs)
	if ip.Type == defs.I_DIR && !fs.dirempty(ip) {
		ip.Unlock()
		fs.iput(ip)
		dir.Unlock()
		fs.iput(dir)
		fs.log.End_op(fs.getBlock, fs.release)
		return -defs.ENOTEMPTY
	}
	fs.dirunlink(dir, off)
	if ip.Type == defs.I_DIR {
		dir.Nlink--
		fs.iupdate(dir)
	}
	ip.Nlink--
	fs.iupdate(ip)
	ip.Unlock()
	dir.Unlock()
	fs.iput(ip)
	fs.iput(dir)
	fs.log.End_op(fs.getBlock, fs.release)
	return 0
}

// Fs_link adds a new name for an existing file; directories may not be
// hard-linked.
func (fs *Fs_t) Fs_link(oldpath, newpath ustr.Ustr, cwd *Cwd_t) defs.Err_t {
	fs.log.Begin_op()
	ip, _, err := fs.namex(oldpath, cwd, false)
	if err != 0 {
		fs.log.End_op(fs.getBlock, fs.release)
		return err
	}
	if ip.Type == defs.I_DIR {
		fs.iput(ip)
		fs.log.End_op(fs.getBlock, fs.release)
		return -defs.EPERM
	}
	dir, name, err := fs.namex(newpath, cwd, true)
	if err != 0 {
		fs.iput(ip)
		fs.log.End_op(fs.getBlock, fs.release)
		return err
	}
	dir.Lock(fs)
	if derr := fs.dirlink(dir, name, ip.Inum); derr != 0 {
		dir.Unlock()
		fs.iput(dir)
		fs.iput(ip)
		fs.log.End_op(fs.getBlock, fs.release)
		return derr
	}
	ip.Lock(fs)
	ip.Nlink++
	fs.iupdate(ip)
	ip.Unlock()
	dir.Unlock()
	fs.iput(dir)
	fs.iput(ip)
	fs.log.End_op(fs.getBlock, fs.release)
	return 0
}

// Fs_rename moves the entry at oldpath to newpath. This kernel does not
// implement cross-directory rename as a single atomic in-place update
// of the destination; it links the new name then unlinks the old one,
// both inside one log transaction so a crash never leaves the file
// name-less.
func (fs *Fs_t) Fs_rename(oldpath, newpath ustr.Ustr, cwd *Cwd_t) defs.Err_t {
	fs.log.Begin_op()
	defer fs.log.End_op(fs.getBlock, fs.release)

	odir, oname, err := fs.namex(oldpath, cwd, true)
	if err != 0 {
		return err
	}
	odir.Lock(fs)
	ip, off, ok := fs.dirlookup(odir, oname)
	odir.Unlock()
	if !ok {
		fs.iput(odir)
		return -defs.ENOENT
	}

	ndir, nname, err := fs.namex(newpath, cwd, true)
	if err != 0 {
		fs.iput(ip)
		fs.iput(odir)
		return err
	}
	ndir.Lock(fs)
	if derr := fs.dirlink(ndir, nname, ip.Inum); derr != 0 {
		ndir.Unlock()
		fs.iput(ndir)
		fs.iput(ip)
		fs.iput(odir)
		return derr
	}
	ndir.Unlock()

	odir.Lock(fs)
	fs.dirunlink(odir, off)
	odir.Unlock()

	fs.iput(ndir)
	fs.iput(ip)
	fs.iput(odir)
	return 0
}

// Fs_stat resolves path and fills st with its metadata.
func (fs *Fs_t) Fs_stat(path ustr.Ustr, st *stat.Stat_t, cwd *Cwd_t) defs.Err_t {
	ip, _, err := fs.namex(path, cwd, false)
	if err != 0 {
		return err
	}
	fs.Stat(ip, st)
	fs.iput(ip)
	return 0
}

// Fs_evict drops the caller's reference to ip, taken by a prior
// Fs_open/Fs_mkdir/namex.
func (fs *Fs_t) Fs_evict(ip *Inode_t) { fs.iput(ip) }
