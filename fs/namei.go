package fs

import (
	"riscvkern/defs"
	"riscvkern/ustr"
)

// dirlookup linear-scans dir's entries for name, returning the matching
// inode (referenced, unlocked) and its byte offset within dir's data.
func (fs *Fs_t) dirlookup(dir *Inode_t, name ustr.Ustr) (*Inode_t, int, bool) {
	if dir.Type != defs.I_DIR {
		panic("dirlookup of non-directory")
	}
	buf := make([]uint8, DIRENTSZ)
	for off := 0; off < dir.Size; off += DIRENTSZ {
		n, err := fs.Read(dir, buf, off)
		if err != 0 || n != DIRENTSZ {
			break
		}
		de := decodeDirent(buf)
		if de.Inum != 0 && de.Name.Eq(name) {
			return fs.iget(de.Inum), off, true
		}
	}
	return nil, 0, false
}

// dirlink appends (or reuses an empty slot for) a {inum, name} entry in
// dir. Caller must be inside a Begin_op/End_op pair.
func (fs *Fs_t) dirlink(dir *Inode_t, name ustr.Ustr, inum int) defs.Err_t {
	if _, _, ok := fs.dirlookup(dir, name); ok {
		return -defs.EEXIST
	}
	buf := make([]uint8, DIRENTSZ)
	off := 0
	for ; off < dir.Size; off += DIRENTSZ {
		n, err := fs.Read(dir, buf, off)
		if err != 0 || n != DIRENTSZ {
			break
		}
		if decodeDirent(buf).Inum == 0 {
			break
		}
	}
	encodeDirent(inum, name, buf)
	_, err := fs.Write(dir, buf, off)
	return err
}

// dirunlink clears the entry at byte offset off within dir.
func (fs *Fs_t) dirunlink(dir *Inode_t, off int) defs.Err_t {
	buf := make([]uint8, DIRENTSZ)
	encodeDirent(0, nil, buf)
	_, err := fs.Write(dir, buf, off)
	return err
}

// dirempty reports whether dir contains only "." and "..".
func (fs *Fs_t) dirempty(dir *Inode_t) bool {
	buf := make([]uint8, DIRENTSZ)
	for off := 2 * DIRENTSZ; off < dir.Size; off += DIRENTSZ {
		n, err := fs.Read(dir, buf, off)
		if err != 0 || n != DIRENTSZ {
			break
		}
		if decodeDirent(buf).Inum != 0 {
			return false
		}
	}
	return true
}

// namex resolves path (absolute, starting with '/', or relative to
// cwd.Cwd) to its target inode, referenced and unlocked. If nameiparent
// is true, it instead resolves the path's parent directory and returns
// the final component's name in last.
func (fs *Fs_t) namex(path ustr.Ustr, cwd *Cwd_t, nameiparent bool) (ip *Inode_t, last ustr.Ustr, err defs.Err_t) {
	var cur *Inode_t
	if path.IsAbsolute() {
		cur = cwd.Root
		fs.ic.Lock()
		cur.refs++
		fs.ic.Unlock()
	} else {
		cur = cwd.Cwd
		fs.ic.Lock()
		cur.refs++
		fs.ic.Unlock()
	}

	comps := path.Components()
	if len(comps) == 0 {
		if nameiparent {
			return nil, nil, -defs.EINVAL
		}
		return cur, nil, 0
	}

	for i, comp := range comps {
		if cur.Type != defs.I_DIR {
			fs.iput(cur)
			return nil, nil, -defs.ENOTDIR
		}
		if nameiparent && i == len(comps)-1 {
			return cur, comp, 0
		}
		next, _, ok := fs.dirlookup(cur, comp)
		fs.iput(cur)
		if !ok {
			return nil, nil, -defs.ENOENT
		}
		cur = next
	}
	return cur, nil, 0
}
