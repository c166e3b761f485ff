package proc

import (
	"bytes"
	"debug/elf"

	"riscvkern/defs"
	"riscvkern/fs"
	"riscvkern/mem"
	"riscvkern/ustr"
	"riscvkern/vm"
)

// Exec layout: a 64-bit ELF image is loaded segment by segment at each
// PT_LOAD program header's own vaddr (program text conventionally
// starts at 0), immediately followed by a page-aligned guard page and
// a single user stack page, matching xv6-riscv's exec. MAXARG caps the
// argument count argv pushing will accept; maxImage bounds how much of
// the inode this kernel will read into memory to parse.
const (
	maxImage  = 4 * 1024 * 1024
	MAXARG    = 32
	MaxArglen = 128
)

// Exec replaces p's address space with the ELF program at path, argv
// pushed onto the new stack, leaving its pid, open files, and
// parent/child links untouched. fsys is the filesystem the path is
// resolved against and m is the physical frame allocator backing the
// new address space. On any failure the half-built address space is
// released and p is left running its old image, per the "process
// unchanged" contract.
func (pt *Ptable_t) Exec(p *Proc_t, fsys *fs.Fs_t, path ustr.Ustr, argv []ustr.Ustr, m *mem.Physmem_t) (entry, sp uintptr, argc int, err defs.Err_t) {
	if len(argv) > MAXARG {
		return 0, 0, 0, -defs.E2BIG
	}

	ip, e := fsys.Fs_open(path, defs.O_RDONLY, 0, p.Cwd.Dir)
	if e != 0 {
		return 0, 0, 0, e
	}
	defer fsys.Fs_evict(ip)

	sz := ip.Size
	if sz > maxImage {
		sz = maxImage
	}
	img := make([]uint8, sz)
	n, e := fsys.Read(ip, img, 0)
	if e != 0 {
		return 0, 0, 0, e
	}
	img = img[:n]

	ef, e2 := elf.NewFile(bytes.NewReader(img))
	if e2 != nil {
		return 0, 0, 0, -defs.ENOEXEC
	}
	if ef.Class != elf.ELFCLASS64 {
		return 0, 0, 0, -defs.ENOEXEC
	}

	nas, e := vm.Mkvm(m)
	if e != 0 {
		return 0, 0, 0, e
	}
	ok := false
	defer func() {
		if !ok {
			nas.Free_address_space()
		}
	}()

	var highest uintptr
	loaded := false
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		loaded = true

		vaddr := uintptr(prog.Vaddr)
		memsz := uintptr(prog.Memsz)
		filesz := uintptr(prog.Filesz)
		if memsz < filesz {
			return 0, 0, 0, -defs.ENOEXEC
		}
		if vaddr%mem.PGSIZE != 0 {
			return 0, 0, 0, -defs.ENOEXEC
		}
		end := vaddr + memsz
		if end < vaddr {
			return 0, 0, 0, -defs.ENOEXEC
		}

		var perm vm.Pte_t = vm.PTE_U
		if prog.Flags&elf.PF_R != 0 {
			perm |= vm.PTE_R
		}
		if prog.Flags&elf.PF_W != 0 {
			perm |= vm.PTE_W
		}
		if prog.Flags&elf.PF_X != 0 {
			perm |= vm.PTE_X
		}

		npg := int((memsz + mem.PGSIZE - 1) / mem.PGSIZE)
		if npg == 0 {
			npg = 1
		}
		if e := nas.Mapuser(vaddr, npg, perm); e != 0 {
			return 0, 0, 0, e
		}

		if filesz > 0 {
			off := int(prog.Off)
			seg := make([]uint8, filesz)
			if _, e := fsys.Read(ip, seg, off); e != 0 {
				return 0, 0, 0, e
			}
			if e := nas.Copy_out(vaddr, seg); e != 0 {
				return 0, 0, 0, e
			}
		}

		if end > highest {
			highest = end
		}
	}
	if !loaded {
		return 0, 0, 0, -defs.ENOEXEC
	}

	imgEnd := highest
	if imgEnd%mem.PGSIZE != 0 {
		imgEnd = (imgEnd/mem.PGSIZE + 1) * mem.PGSIZE
	}
	guardVa := imgEnd
	stackVa := imgEnd + mem.PGSIZE
	stackTop := stackVa + mem.PGSIZE
	stackbase := stackVa // the guard page itself is never a valid sp

	if e := nas.Mapuser(guardVa, 2, vm.PTE_R|vm.PTE_W|vm.PTE_U); e != 0 {
		return 0, 0, 0, e
	}
	if e := nas.Clear_user(guardVa); e != 0 {
		return 0, 0, 0, e
	}

	usp := stackTop
	uargv := make([]uintptr, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		buf := append(append([]byte(nil), argv[i]...), 0)
		usp -= uintptr(len(buf))
		usp -= usp % 16
		if usp < stackbase {
			return 0, 0, 0, -defs.E2BIG
		}
		if e := nas.Copy_out(usp, buf); e != 0 {
			return 0, 0, 0, e
		}
		uargv[i] = usp
	}

	ptrbuf := make([]uint8, (len(uargv)+1)*8)
	for i, a := range uargv {
		putUint64(ptrbuf[i*8:], uint64(a))
	}
	usp -= uintptr(len(ptrbuf))
	usp -= usp % 16
	if usp < stackbase {
		return 0, 0, 0, -defs.E2BIG
	}
	if e := nas.Copy_out(usp, ptrbuf); e != 0 {
		return 0, 0, 0, e
	}

	old := p.Vm
	p.Vm = nas
	ok = true
	old.Free_address_space()
	p.Heapbrk = stackTop

	return uintptr(ef.Entry), usp, len(argv), 0
}

func putUint64(b []uint8, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = uint8(v >> (8 * i))
	}
}

// Sbrk grows p's heap by delta bytes (delta may be 0 to just query the
// current break) and returns the break's value before the call, as the
// sbrk(2) convention requires. Shrinking the heap is not supported: the
// teacher's sbrk shrink path releases individual pages one at a time,
// which this kernel's region-list (each Mapuser call creates one
// region rather than extending an existing one) cannot do without
// leaving a gap in the middle of a region; negative delta returns the
// break unchanged.
func (p *Proc_t) Sbrk(delta int) (uintptr, defs.Err_t) {
	old := p.Heapbrk
	if delta <= 0 {
		return old, 0
	}
	newbrk := old + uintptr(delta)
	oldTop := old
	lo := (uintptr(oldTop) / mem.PGSIZE) * mem.PGSIZE
	if oldTop%mem.PGSIZE != 0 {
		lo += mem.PGSIZE
	}
	hi := newbrk
	if hi%mem.PGSIZE != 0 {
		hi = (hi/mem.PGSIZE + 1) * mem.PGSIZE
	}
	if hi > lo {
		npg := int(hi-lo) / mem.PGSIZE
		if e := p.Vm.Mapuser(lo, npg, vm.PTE_R|vm.PTE_W|vm.PTE_U); e != 0 {
			return 0, e
		}
	}
	p.Heapbrk = newbrk
	return old, 0
}
