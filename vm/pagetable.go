// Package vm implements per-process virtual memory: the Sv39 3-level
// page table, the kernel direct map, and the user-memory copy helpers
// the rest of the kernel uses to move bytes to and from a process's
// address space.
//
// The teacher's vm package (biscuit/src/vm) targets x86-64: it walks a
// recursively-mapped PML4 with unsafe pointer arithmetic over the
// running Go runtime's own address space, and implements demand paging
// and copy-on-write fork. Sv39 is a different (if structurally similar)
// page table format, this kernel runs on a plain byte arena rather than
// real physical memory the Go runtime already occupies, and demand
// paging/COW/mmap are explicit non-goals here, so the page-table walk
// below is rewritten for Sv39 against mem.Physmem_t, while the
// Userbuf_t/Useriovec_t/Fakeubuf_t shapes and the copy_in/copy_out
// naming are kept from the teacher.
package vm

import (
	"unsafe"

	"riscvkern/defs"
	"riscvkern/mem"
)

// Pte_t is one raw Sv39 page table entry.
type Pte_t uint64

const (
	PTE_V Pte_t = 1 << 0 // valid
	PTE_R Pte_t = 1 << 1 // readable
	PTE_W Pte_t = 1 << 2 // writable
	PTE_X Pte_t = 1 << 3 // executable
	PTE_U Pte_t = 1 << 4 // user-accessible
	PTE_G Pte_t = 1 << 5 // global
	PTE_A Pte_t = 1 << 6 // accessed
	PTE_D Pte_t = 1 << 7 // dirty
)

const ppnShift = 10

// Pagetable_t is one level of an Sv39 page table: 512 8-byte entries.
type Pagetable_t [512]Pte_t

const pgsize = mem.PGSIZE

func pa2pte(pa mem.Pa_t) Pte_t { return Pte_t(pa/mem.Pa_t(pgsize)) << ppnShift }
func pte2pa(pte Pte_t) mem.Pa_t {
	return mem.Pa_t(pte>>ppnShift) * mem.Pa_t(pgsize)
}

// vpn extracts the 9-bit virtual page number for level l (0, 1, or 2)
// out of virtual address va.
func vpn(va uintptr, l uint) uint {
	return uint((va >> (12 + 9*l)) & 0x1ff)
}

// Walk returns the leaf PTE mapping va in pt, allocating intermediate
// page-table pages from m as needed when alloc is true.
func Walk(pt *Pagetable_t, va uintptr, alloc bool, m *mem.Physmem_t) (*Pte_t, defs.Err_t) {
	cur := pt
	for l := 2; l > 0; l-- {
		pte := &cur[vpn(va, uint(l))]
		if *pte&PTE_V != 0 {
			cur = (*Pagetable_t)(unsafe.Pointer(m.Dmap(pte2pa(*pte))))
			continue
		}
		if !alloc {
			return nil, -defs.ENOMEM
		}
		pg, pa, ok := m.Refpg_new()
		_ = pg
		if !ok {
			return nil, -defs.ENOMEM
		}
		*pte = pa2pte(pa) | PTE_V
		cur = (*Pagetable_t)(unsafe.Pointer(m.Dmap(pa)))
	}
	return &cur[vpn(va, 0)], 0
}

// Map_page installs a single page mapping va -> pa with the given
// permission bits (PTE_R/W/X/U), allocating page-table pages as needed.
func Map_page(pt *Pagetable_t, va uintptr, pa mem.Pa_t, perm Pte_t, m *mem.Physmem_t) defs.Err_t {
	pte, err := Walk(pt, va, true, m)
	if err != 0 {
		return err
	}
	if *pte&PTE_V != 0 {
		panic("remap")
	}
	*pte = pa2pte(pa) | perm | PTE_V
	return 0
}

// Map_range maps count pages starting at va to the count pages starting
// at pa, with uniform permission bits.
func Map_range(pt *Pagetable_t, va uintptr, pa mem.Pa_t, count int, perm Pte_t, m *mem.Physmem_t) defs.Err_t {
	for i := 0; i < count; i++ {
		off := uintptr(i * pgsize)
		if err := Map_page(pt, va+off, pa+mem.Pa_t(i*pgsize), perm, m); err != 0 {
			return err
		}
	}
	return 0
}

// Unmap_range clears count page mappings starting at va. If dropref is
// true the backing frames are also reference-counted down (and freed
// when the count reaches zero).
func Unmap_range(pt *Pagetable_t, va uintptr, count int, dropref bool, m *mem.Physmem_t) {
	for i := 0; i < count; i++ {
		off := uintptr(i * pgsize)
		pte, err := Walk(pt, va+off, false, m)
		if err != 0 || *pte&PTE_V == 0 {
			continue
		}
		if dropref {
			m.Refdown(pte2pa(*pte))
		}
		*pte = 0
	}
}
