// Package mem implements the physical-frame allocator and the kernel
// direct map. The teacher's x86 version (biscuit/src/mem) shards the
// free list per-CPU and walks a recursively-mapped PML4 with unsafe
// pointer arithmetic over the running Go runtime's own address space;
// none of that applies to a simulated kernel, so this version keeps the
// teacher's refcounted-free-list design and Page_i interface shape but
// backs "physical memory" with a single Go byte arena indexed by a
// plain integer frame number, with one global free-list mutex instead
// of per-hart shards.
package mem

import (
	"fmt"
	"sync"
	"unsafe"
)

// unsafePage reinterprets a PGSIZE-length byte slice as a *Pg_t,
// mirroring the teacher's Bytepg_t/Pg_t casts in mem/mem.go.
func unsafePage(b []byte) unsafe.Pointer {
	if len(b) != PGSIZE {
		panic("not a page-sized slice")
	}
	return unsafe.Pointer(&b[0])
}

// PGSHIFT is the base-2 log of the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page/frame in bytes.
const PGSIZE int = 1 << PGSHIFT

// PGOFFSET masks the in-page offset out of an address.
const PGOFFSET Pa_t = Pa_t(PGSIZE - 1)

// PGMASK masks the frame number out of an address.
const PGMASK Pa_t = ^PGOFFSET

// Pa_t is a physical address: an index into the backing arena, not a
// host pointer.
type Pa_t uintptr

// Pg_t is one page's worth of bytes.
type Pg_t [PGSIZE]uint8

// Page_i abstracts frame allocation; *Physmem_t implements it. The
// other packages here, vm included, take a *Physmem_t directly.
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

type physpg_t struct {
	refcnt int32
	nexti  int32 // next free frame, -1 if none
}

// Physmem_t is the system's physical frame allocator: a simple
// refcounted free list over a fixed-size arena.
type Physmem_t struct {
	sync.Mutex
	arena   []byte
	pgs     []physpg_t
	nframes int
	freei   int32 // -1 if the free list is empty
}

// ErrNoMem signals frame-allocator exhaustion; kernel callers translate
// this into defs.ENOMEM.
var ErrNoMem = fmt.Errorf("out of physical memory")

// Phys_init carves nframes frames out of a freshly allocated arena and
// chains them onto the free list.
func Phys_init(nframes int) *Physmem_t {
	if nframes <= 0 {
		panic("bad frame count")
	}
	p := &Physmem_t{
		arena:   make([]byte, nframes*PGSIZE),
		pgs:     make([]physpg_t, nframes),
		nframes: nframes,
	}
	for i := 0; i < nframes; i++ {
		nexti := int32(i + 1)
		if i == nframes-1 {
			nexti = -1
		}
		p.pgs[i] = physpg_t{refcnt: 0, nexti: nexti}
	}
	p.freei = 0
	return p
}

func (p *Physmem_t) frameOf(pa Pa_t) int {
	idx := int(pa) / PGSIZE
	if idx < 0 || idx >= p.nframes {
		panic("Pa_t out of range")
	}
	return idx
}

// Dmap returns the kernel's view of the page at pa. Since this kernel's
// direct map is virtual==physical by construction, this is a plain
// slice into the arena.
func (p *Physmem_t) Dmap(pa Pa_t) *Pg_t {
	idx := p.frameOf(pa)
	return (*Pg_t)(unsafePage(p.arena[idx*PGSIZE : (idx+1)*PGSIZE]))
}

// Dmap8 is Dmap but returns the page as a plain byte slice, as callers
// that don't need the fixed-size array type prefer.
func (p *Physmem_t) Dmap8(pa Pa_t) []uint8 {
	idx := p.frameOf(pa)
	return p.arena[idx*PGSIZE : (idx+1)*PGSIZE]
}

func (p *Physmem_t) allocFrame() (int, bool) {
	p.Lock()
	defer p.Unlock()
	if p.freei == -1 {
		return 0, false
	}
	idx := p.freei
	p.freei = p.pgs[idx].nexti
	p.pgs[idx].refcnt = 1
	return int(idx), true
}

// Refpg_new allocates a zeroed page and returns it, its physical
// address, and whether the allocation succeeded.
func (p *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	idx, ok := p.allocFrame()
	if !ok {
		return nil, 0, false
	}
	pg := (*Pg_t)(unsafePage(p.arena[idx*PGSIZE : (idx+1)*PGSIZE]))
	for i := range pg {
		pg[i] = 0
	}
	return pg, Pa_t(idx * PGSIZE), true
}

// Refpg_new_nozero is Refpg_new without the zero-fill, for callers
// about to overwrite the whole page anyway.
func (p *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	idx, ok := p.allocFrame()
	if !ok {
		return nil, 0, false
	}
	pg := (*Pg_t)(unsafePage(p.arena[idx*PGSIZE : (idx+1)*PGSIZE]))
	return pg, Pa_t(idx * PGSIZE), true
}

// Refcnt returns the reference count of the page at pa.
func (p *Physmem_t) Refcnt(pa Pa_t) int {
	p.Lock()
	defer p.Unlock()
	return int(p.pgs[p.frameOf(pa)].refcnt)
}

// Refup increments the reference count of the page at pa.
func (p *Physmem_t) Refup(pa Pa_t) {
	p.Lock()
	defer p.Unlock()
	p.pgs[p.frameOf(pa)].refcnt++
}

// Refdown decrements the reference count of the page at pa, freeing it
// back to the free list when it reaches zero. Returns true if the page
// was freed.
func (p *Physmem_t) Refdown(pa Pa_t) bool {
	p.Lock()
	defer p.Unlock()
	idx := p.frameOf(pa)
	p.pgs[idx].refcnt--
	if p.pgs[idx].refcnt < 0 {
		panic("refcount underflow")
	}
	if p.pgs[idx].refcnt == 0 {
		p.pgs[idx].nexti = p.freei
		p.freei = int32(idx)
		return true
	}
	return false
}

// Nframes reports the allocator's total frame count, for diagnostics.
func (p *Physmem_t) Nframes() int { return p.nframes }
