// Package file implements the open-file table: the Fdops_i interface
// every kind of open descriptor satisfies, regular-file and directory
// file objects backed by package fs, pipes backed by package circbuf,
// and the device-major dispatch table for /dev-style special files.
// Grounded on the teacher's fd/fd.go (Fd_t, Cwd_t, FD_READ/WRITE/CLOEXEC)
// and circbuf/accnt for the pipe and device wiring those packages exist
// to serve.
package file

import (
	"sync"

	"riscvkern/circbuf"
	"riscvkern/defs"
	"riscvkern/fs"
	"riscvkern/stat"
	"riscvkern/vm"
)

// File descriptor permission bits.
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Fdops_i is implemented by every kind of open file: regular files,
// directories, pipes, and devices.
type Fdops_i interface {
	Read(dst vm.Userio_i) (int, defs.Err_t)
	Write(src vm.Userio_i) (int, defs.Err_t)
	Fstat(st *stat.Stat_t) defs.Err_t
	Close() defs.Err_t
	Reopen() defs.Err_t
	Lseek(off, whence int) (int, defs.Err_t)
}

// Fd_t is one entry in a process's open-file table.
type Fd_t struct {
	Fops  Fdops_i
	Perms int
}

// Copyfd duplicates fd (dup/dup2/fork), bumping the underlying object's
// reference count via Reopen.
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	if err := nfd.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

// Cwd_t tracks a process's current working directory.
type Cwd_t struct {
	sync.Mutex
	Dir *fs.Cwd_t
}

// File_t is a regular-file or directory open-file object: an inode
// reference plus a shared or private byte offset.
type File_t struct {
	sync.Mutex
	fs     *fs.Fs_t
	ip     *fs.Inode_t
	off    int
	refcnt int
	append bool
}

// MkFile wraps ip as an open file object at the given initial offset.
func MkFile(fsys *fs.Fs_t, ip *fs.Inode_t, off int, appendMode bool) *File_t {
	return &File_t{fs: fsys, ip: ip, off: off, refcnt: 1, append: appendMode}
}

func (f *File_t) Read(dst vm.Userio_i) (int, defs.Err_t) {
	f.Lock()
	defer f.Unlock()
	buf := make([]uint8, dst.Remain())
	n, err := f.fs.Read(f.ip, buf, f.off)
	if err != 0 {
		return 0, err
	}
	wrote, err := dst.Uiowrite(buf[:n])
	f.off += wrote
	return wrote, err
}

func (f *File_t) Write(src vm.Userio_i) (int, defs.Err_t) {
	f.Lock()
	defer f.Unlock()
	buf := make([]uint8, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	off := f.off
	if f.append {
		off = f.ip.Size
	}
	f.fs.BeginOp()
	wrote, err := f.fs.Write(f.ip, buf[:n], off)
	f.fs.EndOp()
	f.off = off + wrote
	return wrote, err
}

func (f *File_t) Fstat(st *stat.Stat_t) defs.Err_t {
	f.fs.Stat(f.ip, st)
	return 0
}

func (f *File_t) Close() defs.Err_t {
	f.Lock()
	f.refcnt--
	evict := f.refcnt == 0
	f.Unlock()
	if evict {
		f.fs.Fs_evict(f.ip)
	}
	return 0
}

func (f *File_t) Reopen() defs.Err_t {
	f.Lock()
	f.refcnt++
	f.Unlock()
	return 0
}

func (f *File_t) Lseek(off, whence int) (int, defs.Err_t) {
	f.Lock()
	defer f.Unlock()
	switch whence {
	case defs.SEEK_SET:
		f.off = off
	case defs.SEEK_CUR:
		f.off += off
	case defs.SEEK_END:
		f.off = f.ip.Size + off
	default:
		return 0, -defs.EINVAL
	}
	if f.off < 0 {
		f.off = 0
		return 0, -defs.EINVAL
	}
	return f.off, 0
}

// Pipe_t is a unidirectional byte pipe: a circbuf.Circbuf_t plus the
// blocking-read/write rendezvous built on a condition variable, per
// spec's sleep/wakeup pipe contract.
type Pipe_t struct {
	sync.Mutex
	cond      *sync.Cond
	cb        circbuf.Circbuf_t
	readers   int
	writers   int
}

// MkPipe allocates a pipe with the given buffer capacity.
func MkPipe(sz int) *Pipe_t {
	p := &Pipe_t{readers: 1, writers: 1}
	p.cond = sync.NewCond(&p.Mutex)
	p.cb.Init(sz)
	return p
}

// pipeEnd is the Fdops_i each end of a pipe implements; iswriter
// selects which end Close/Reopen account against.
type pipeEnd struct {
	p        *Pipe_t
	iswriter bool
}

// ReadEnd/WriteEnd return the Fdops_i for each end of p.
func (p *Pipe_t) ReadEnd() Fdops_i  { return &pipeEnd{p: p, iswriter: false} }
func (p *Pipe_t) WriteEnd() Fdops_i { return &pipeEnd{p: p, iswriter: true} }

func (pe *pipeEnd) Read(dst vm.Userio_i) (int, defs.Err_t) {
	p := pe.p
	p.Lock()
	defer p.Unlock()
	for p.cb.Empty() && p.writers > 0 {
		p.cond.Wait()
	}
	if p.cb.Empty() && p.writers == 0 {
		return 0, 0
	}
	buf := make([]uint8, dst.Remain())
	n := p.cb.Copyout(buf)
	p.cond.Broadcast()
	wrote, err := dst.Uiowrite(buf[:n])
	return wrote, err
}

func (pe *pipeEnd) Write(src vm.Userio_i) (int, defs.Err_t) {
	p := pe.p
	p.Lock()
	defer p.Unlock()
	if p.readers == 0 {
		return 0, -defs.EPIPE
	}
	buf := make([]uint8, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	off := 0
	for off < n {
		for p.cb.Full() && p.readers > 0 {
			p.cond.Wait()
		}
		if p.readers == 0 {
			return off, -defs.EPIPE
		}
		off += p.cb.Copyin(buf[off:n])
		p.cond.Broadcast()
	}
	return off, 0
}

func (pe *pipeEnd) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(uint(defs.I_DEV))
	return 0
}

func (pe *pipeEnd) Close() defs.Err_t {
	p := pe.p
	p.Lock()
	defer p.Unlock()
	if pe.iswriter {
		p.writers--
	} else {
		p.readers--
	}
	p.cond.Broadcast()
	return 0
}

func (pe *pipeEnd) Reopen() defs.Err_t {
	p := pe.p
	p.Lock()
	defer p.Unlock()
	if pe.iswriter {
		p.writers++
	} else {
		p.readers++
	}
	return 0
}

func (pe *pipeEnd) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }
