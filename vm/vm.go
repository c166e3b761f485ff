package vm

import (
	"sync"
	"unsafe"

	"riscvkern/defs"
	"riscvkern/mem"
	"riscvkern/ustr"
)

// Vm_t is one process's address space: its Sv39 page table plus the
// region list used to validate user-memory accesses. The embedded
// mutex is the pmap lock the teacher calls Lock_pmap/Unlock_pmap;
// page-table mutation and user copy_in/copy_out both take it.
type Vm_t struct {
	sync.Mutex
	Pagetable *Pagetable_t
	P_pt      mem.Pa_t
	Vmregion  Vmregion_t
	mem       *mem.Physmem_t
}

// Mkvm allocates a fresh, empty address space backed by m.
func Mkvm(m *mem.Physmem_t) (*Vm_t, defs.Err_t) {
	pg, pa, ok := m.Refpg_new()
	if !ok {
		return nil, -defs.ENOMEM
	}
	return &Vm_t{
		Pagetable: (*Pagetable_t)(unsafe.Pointer(pg)),
		P_pt:      pa,
		mem:       m,
	}, 0
}

// Lock_pmap acquires the address-space lock before page-table or
// region-list mutation.
func (as *Vm_t) Lock_pmap() { as.Lock() }

// Unlock_pmap releases the address-space lock.
func (as *Vm_t) Unlock_pmap() { as.Unlock() }

// Mapuser maps a fresh zeroed region of npg pages starting at va with
// the given permission bits, tracking it in the region list.
func (as *Vm_t) Mapuser(va uintptr, npg int, perm Pte_t) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	pstart := mem.Pa_t(0)
	for i := 0; i < npg; i++ {
		_, pa, ok := as.mem.Refpg_new()
		if !ok {
			return -defs.ENOMEM
		}
		if i == 0 {
			pstart = pa
		}
		if err := Map_page(as.Pagetable, va+uintptr(i*pgsize), pa, perm|PTE_V, as.mem); err != 0 {
			return err
		}
	}
	as.Vmregion.Add(&Vminfo_t{Start: va, Len: npg * pgsize, Pstart: uintptr(pstart), Perm: perm})
	return 0
}

// Unmapuser removes the region starting at va (which must match a
// region added by Mapuser exactly) and releases its frames.
func (as *Vm_t) Unmapuser(va uintptr) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	vmi, ok := as.Vmregion.Lookup(va)
	if !ok {
		panic("no such region")
	}
	Unmap_range(as.Pagetable, vmi.Start, vmi.Len/pgsize, true, as.mem)
	remaining := as.Vmregion.All()[:0]
	for _, r := range as.Vmregion.All() {
		if r != vmi {
			remaining = append(remaining, r)
		}
	}
	as.Vmregion.regions = remaining
}

// translate resolves va to a live kernel-side byte slice of the page
// containing it, failing with EFAULT if va isn't mapped (or, when
// forWrite, isn't writable).
func (as *Vm_t) translate(va uintptr, forWrite bool) ([]uint8, defs.Err_t) {
	vmi, ok := as.Vmregion.Lookup(va)
	if !ok {
		return nil, -defs.EFAULT
	}
	if forWrite && vmi.Perm&PTE_W == 0 {
		return nil, -defs.EFAULT
	}
	pte, err := Walk(as.Pagetable, va, false, as.mem)
	if err != 0 || *pte&PTE_V == 0 {
		return nil, -defs.EFAULT
	}
	pa := pte2pa(*pte)
	voff := int(va) & (pgsize - 1)
	return as.mem.Dmap8(pa)[voff:], 0
}

// Userdmap8 returns a kernel-side slice of the page containing va,
// forWrite indicating whether the caller intends to write through it.
func (as *Vm_t) Userdmap8(va uintptr, forWrite bool) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.translate(va, forWrite)
}

// Copy_in copies len(dst) bytes of user memory starting at uva into
// dst.
func (as *Vm_t) Copy_in(uva uintptr, dst []uint8) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	off := 0
	for off < len(dst) {
		chunk, err := as.translate(uva+uintptr(off), false)
		if err != 0 {
			return err
		}
		n := copy(dst[off:], chunk)
		off += n
	}
	return 0
}

// Copy_out copies src into user memory starting at uva.
func (as *Vm_t) Copy_out(uva uintptr, src []uint8) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	off := 0
	for off < len(src) {
		chunk, err := as.translate(uva+uintptr(off), true)
		if err != 0 {
			return err
		}
		n := copy(chunk, src[off:])
		off += n
	}
	return 0
}

// Copy_in_str reads a NUL-terminated string of at most lenmax bytes
// starting at uva.
func (as *Vm_t) Copy_in_str(uva uintptr, lenmax int) (ustr.Ustr, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var out []byte
	for len(out) < lenmax {
		chunk, err := as.translate(uva+uintptr(len(out)), false)
		if err != 0 {
			return nil, err
		}
		for _, c := range chunk {
			if len(out) >= lenmax {
				return nil, -defs.ENAMETOOLONG
			}
			if c == 0 {
				return ustr.Ustr(out), 0
			}
			out = append(out, c)
		}
	}
	return nil, -defs.ENAMETOOLONG
}

// Userreadn reads n bytes (n in {1,2,4,8}) from user memory at va as a
// little-endian integer.
func (as *Vm_t) Userreadn(va uintptr, n int) (int, defs.Err_t) {
	buf := make([]uint8, n)
	if err := as.Copy_in(va, buf); err != 0 {
		return 0, err
	}
	ret := 0
	for i := n - 1; i >= 0; i-- {
		ret = (ret << 8) | int(buf[i])
	}
	return ret, 0
}

// Userwriten writes val, using sz bytes, into user memory at va.
func (as *Vm_t) Userwriten(va uintptr, sz int, val int) defs.Err_t {
	buf := make([]uint8, sz)
	for i := 0; i < sz; i++ {
		buf[i] = uint8(val >> (8 * i))
	}
	return as.Copy_out(va, buf)
}

// Zero_user zero-fills npg pages of user memory starting at va.
func (as *Vm_t) Zero_user(va uintptr, npg int) defs.Err_t {
	zero := make([]uint8, pgsize)
	for i := 0; i < npg; i++ {
		if err := as.Copy_out(va+uintptr(i*pgsize), zero); err != 0 {
			return err
		}
	}
	return 0
}

// Clear_user clears only the user-accessible bit on the leaf mapping
// va, leaving the page mapped but inaccessible from user mode. exec
// uses this to turn the lower of its two newly-mapped stack pages into
// an inaccessible guard page without unmapping it.
func (as *Vm_t) Clear_user(va uintptr) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	pte, err := Walk(as.Pagetable, va, false, as.mem)
	if err != 0 || *pte&PTE_V == 0 {
		return -defs.EFAULT
	}
	*pte &^= PTE_U
	return 0
}

// Free_address_space releases every frame mapped into as, including
// its page-table pages, back to the frame allocator.
func (as *Vm_t) Free_address_space() {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for _, vmi := range as.Vmregion.All() {
		Unmap_range(as.Pagetable, vmi.Start, vmi.Len/pgsize, true, as.mem)
	}
	as.Vmregion.Clear()
	freePagetable(as.Pagetable, 2, as.mem)
	as.mem.Refdown(as.P_pt)
}

func freePagetable(pt *Pagetable_t, level int, m *mem.Physmem_t) {
	if level == 0 {
		return
	}
	for _, pte := range pt {
		if pte&PTE_V != 0 {
			child := (*Pagetable_t)(unsafe.Pointer(m.Dmap(pte2pa(pte))))
			freePagetable(child, level-1, m)
			m.Refdown(pte2pa(pte))
		}
	}
}

// Copy_address_space deep-copies every mapped page from as into a fresh
// address space (used by fork; this kernel copies eagerly rather than
// sharing pages copy-on-write, per the chosen Non-goals).
func (as *Vm_t) Copy_address_space() (*Vm_t, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	nas, err := Mkvm(as.mem)
	if err != 0 {
		return nil, err
	}
	for _, vmi := range as.Vmregion.All() {
		npg := vmi.Len / pgsize
		if err := nas.Mapuser(vmi.Start, npg, vmi.Perm); err != 0 {
			nas.Free_address_space()
			return nil, err
		}
		buf := make([]uint8, vmi.Len)
		if err := as.copyOutNoLock(vmi.Start, buf); err != 0 {
			nas.Free_address_space()
			return nil, err
		}
		if err := nas.copyInNoLockWrite(vmi.Start, buf); err != 0 {
			nas.Free_address_space()
			return nil, err
		}
	}
	return nas, 0
}

func (as *Vm_t) copyOutNoLock(uva uintptr, dst []uint8) defs.Err_t {
	off := 0
	for off < len(dst) {
		chunk, err := as.translate(uva+uintptr(off), false)
		if err != 0 {
			return err
		}
		n := copy(dst[off:], chunk)
		off += n
	}
	return 0
}

func (as *Vm_t) copyInNoLockWrite(uva uintptr, src []uint8) defs.Err_t {
	off := 0
	for off < len(src) {
		chunk, err := as.translate(uva+uintptr(off), true)
		if err != 0 {
			return err
		}
		n := copy(chunk, src[off:])
		off += n
	}
	return 0
}
