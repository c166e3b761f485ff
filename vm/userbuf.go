package vm

import "riscvkern/defs"

// Userio_i is implemented by anything that can move bytes to or from a
// process: a user-memory range (Userbuf_t), a scatter/gather iovec
// array (Useriovec_t), or a kernel-internal buffer masquerading as one
// (Fakeubuf_t). File reads/writes (package file) are written against
// this interface so they don't care which kind of buffer they're
// copying through.
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

// Userbuf_t is a [userva, userva+len) range of one process's address
// space, read or written a chunk at a time as the underlying pages are
// translated.
type Userbuf_t struct {
	as     *Vm_t
	userva uintptr
	len    int
	off    int
}

// Ub_init initializes ub over [uva, uva+ln) in as.
func (ub *Userbuf_t) Ub_init(as *Vm_t, uva uintptr, ln int) {
	if ln < 0 {
		panic("negative length")
	}
	ub.as = as
	ub.userva = uva
	ub.len = ln
	ub.off = 0
}

func (ub *Userbuf_t) Remain() int   { return ub.len - ub.off }
func (ub *Userbuf_t) Totalsz() int  { return ub.len }

func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	n := len(dst)
	if n > ub.Remain() {
		n = ub.Remain()
	}
	if n == 0 {
		return 0, 0
	}
	if err := ub.as.Copy_in(ub.userva+uintptr(ub.off), dst[:n]); err != 0 {
		return 0, err
	}
	ub.off += n
	return n, 0
}

func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := len(src)
	if n > ub.Remain() {
		n = ub.Remain()
	}
	if n == 0 {
		return 0, 0
	}
	if err := ub.as.Copy_out(ub.userva+uintptr(ub.off), src[:n]); err != 0 {
		return 0, err
	}
	ub.off += n
	return n, 0
}

type iove_t struct {
	uva uintptr
	sz  int
}

// Useriovec_t is a sequence of user buffers described by an iovec array
// read out of user memory once at Iov_init time.
type Useriovec_t struct {
	as   *Vm_t
	iovs []iove_t
	tsz  int
}

const maxIovs = 10

// Iov_init reads niovs {uva, sz} pairs starting at iovarn out of
// user memory.
func (iov *Useriovec_t) Iov_init(as *Vm_t, iovarn uintptr, niovs int) defs.Err_t {
	if niovs > maxIovs {
		return -defs.EINVAL
	}
	iov.as = as
	iov.iovs = make([]iove_t, niovs)
	iov.tsz = 0
	for i := range iov.iovs {
		elmsz := uintptr(16)
		va := iovarn + uintptr(i)*elmsz
		uva, err := as.Userreadn(va, 8)
		if err != 0 {
			return err
		}
		sz, err := as.Userreadn(va+8, 8)
		if err != 0 {
			return err
		}
		iov.iovs[i] = iove_t{uva: uintptr(uva), sz: sz}
		iov.tsz += sz
	}
	return 0
}

func (iov *Useriovec_t) Remain() int {
	n := 0
	for _, e := range iov.iovs {
		n += e.sz
	}
	return n
}

func (iov *Useriovec_t) Totalsz() int { return iov.tsz }

func (iov *Useriovec_t) tx(buf []uint8, towrite bool) (int, defs.Err_t) {
	did := 0
	for len(buf) > 0 && len(iov.iovs) > 0 {
		cur := &iov.iovs[0]
		ub := &Userbuf_t{}
		ub.Ub_init(iov.as, cur.uva, cur.sz)
		var n int
		var err defs.Err_t
		if towrite {
			n, err = ub.Uiowrite(buf)
		} else {
			n, err = ub.Uioread(buf)
		}
		cur.uva += uintptr(n)
		cur.sz -= n
		if cur.sz == 0 {
			iov.iovs = iov.iovs[1:]
		}
		buf = buf[n:]
		did += n
		if err != 0 {
			return did, err
		}
		if n == 0 {
			break
		}
	}
	return did, 0
}

func (iov *Useriovec_t) Uioread(dst []uint8) (int, defs.Err_t)  { return iov.tx(dst, false) }
func (iov *Useriovec_t) Uiowrite(src []uint8) (int, defs.Err_t) { return iov.tx(src, true) }

// Fakeubuf_t adapts a plain kernel byte slice to the Userio_i
// interface, for kernel code that needs to hand a buffer to a
// file-layer routine that expects to be copying to/from a process.
type Fakeubuf_t struct {
	buf []uint8
	len int
}

// Fake_init sets up fb over buf.
func (fb *Fakeubuf_t) Fake_init(buf []uint8) {
	fb.buf = buf
	fb.len = len(buf)
}

func (fb *Fakeubuf_t) Remain() int  { return len(fb.buf) }
func (fb *Fakeubuf_t) Totalsz() int { return fb.len }

func (fb *Fakeubuf_t) tx(buf []uint8, tofbuf bool) (int, defs.Err_t) {
	var c int
	if tofbuf {
		c = copy(fb.buf, buf)
	} else {
		c = copy(buf, fb.buf)
	}
	fb.buf = fb.buf[c:]
	return c, 0
}

func (fb *Fakeubuf_t) Uioread(dst []uint8) (int, defs.Err_t)  { return fb.tx(dst, false) }
func (fb *Fakeubuf_t) Uiowrite(src []uint8) (int, defs.Err_t) { return fb.tx(src, true) }
