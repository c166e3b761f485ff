package vm

import "sort"

// Vminfo_t describes one mapped region of a process's address space:
// [start, start+len), with the permission bits every page in the region
// carries. Pstart is the frame backing the first page; the frames of
// later pages are allocated one at a time and need not follow it.
type Vminfo_t struct {
	Start  uintptr
	Len    int
	Pstart uintptr // arena frame offset for the mapping's first page
	Perm   Pte_t
}

func (vmi *Vminfo_t) end() uintptr { return vmi.Start + uintptr(vmi.Len) }

// Vmregion_t is the sorted list of mapped regions backing a Vm_t, used
// to validate user copy_in/copy_out ranges without walking the page
// table for every byte.
type Vmregion_t struct {
	regions []*Vminfo_t
}

// Add inserts a new mapped region, keeping the list sorted by start
// address.
func (vr *Vmregion_t) Add(vmi *Vminfo_t) {
	vr.regions = append(vr.regions, vmi)
	sort.Slice(vr.regions, func(i, j int) bool {
		return vr.regions[i].Start < vr.regions[j].Start
	})
}

// Lookup returns the region containing va, if any.
func (vr *Vmregion_t) Lookup(va uintptr) (*Vminfo_t, bool) {
	for _, r := range vr.regions {
		if va >= r.Start && va < r.end() {
			return r, true
		}
	}
	return nil, false
}

// Clear empties the region list (the caller is responsible for
// unmapping pages from the page table first).
func (vr *Vmregion_t) Clear() { vr.regions = nil }

// All returns every tracked region, for address-space copy/free.
func (vr *Vmregion_t) All() []*Vminfo_t { return vr.regions }
