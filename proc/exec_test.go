package proc

import (
	"testing"

	"riscvkern/defs"
	"riscvkern/diskdrv"
	"riscvkern/file"
	"riscvkern/fs"
	"riscvkern/mem"
	"riscvkern/ustr"
	"riscvkern/vm"
)

func mkExecFS(t *testing.T, image []byte) (*fs.Fs_t, *file.Cwd_t) {
	t.Helper()
	disk := diskdrv.MkMemDisk()
	const logLen, inodeLen, bitmapLen = 8, 4, 1
	nblocks := 2 + logLen + inodeLen + bitmapLen + 400
	fsys := fs.MkFS(1, disk, nblocks, logLen, inodeLen, bitmapLen, true)

	root := fsys.Root()
	fscwd := &fs.Cwd_t{Root: root, Cwd: root}
	ip, err := fsys.Fs_open(ustr.Ustr("/prog"), defs.O_CREAT|defs.O_RDWR, 0, fscwd)
	if err != 0 {
		t.Fatalf("Fs_open: %v", err)
	}
	fsys.BeginOp()
	ip.Lock(fsys)
	if _, werr := fsys.Write(ip, image, 0); werr != 0 {
		t.Fatalf("Write: %v", werr)
	}
	ip.Unlock()
	fsys.EndOp()
	fsys.Fs_evict(ip)

	return fsys, &file.Cwd_t{Dir: fscwd}
}

func putLE16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putLE32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// buildELF assembles a minimal 64-bit ELF image by hand (the standard
// library only parses ELF, it doesn't write it): one executable
// PT_LOAD segment mapped at vaddr 0 containing page, entry pointing
// into it at entry.
func buildELF(page []byte, entry uint64) []byte {
	const ehsize, phsize = 64, 56
	hdr := make([]byte, ehsize)
	copy(hdr[0:4], []byte{0x7f, 'E', 'L', 'F'})
	hdr[4] = 2 // ELFCLASS64
	hdr[5] = 1 // ELFDATA2LSB
	hdr[6] = 1 // EV_CURRENT
	putLE16(hdr[16:], 2)    // e_type = ET_EXEC
	putLE16(hdr[18:], 243)  // e_machine = EM_RISCV
	putLE32(hdr[20:], 1)    // e_version
	putLE64(hdr[24:], entry)
	putLE64(hdr[32:], uint64(ehsize)) // e_phoff
	putLE16(hdr[52:], ehsize)         // e_ehsize
	putLE16(hdr[54:], phsize)         // e_phentsize
	putLE16(hdr[56:], 1)              // e_phnum

	ph := make([]byte, phsize)
	putLE32(ph[0:], 1)                      // p_type = PT_LOAD
	putLE32(ph[4:], 7)                       // p_flags = R|W|X
	putLE64(ph[8:], uint64(ehsize+phsize))   // p_offset
	putLE64(ph[16:], 0)                      // p_vaddr
	putLE64(ph[24:], 0)                      // p_paddr
	putLE64(ph[32:], uint64(len(page)))      // p_filesz
	putLE64(ph[40:], uint64(len(page)))      // p_memsz
	putLE64(ph[48:], 4096)                   // p_align

	out := append(hdr, ph...)
	out = append(out, page...)
	return out
}

func TestExecMapsImageAndStack(t *testing.T) {
	pt := MkPtable()
	page := make([]byte, 4096)
	copy(page[16:], []byte("fake-binary"))
	image := buildELF(page, 16)
	fsys, cwd := mkExecFS(t, image)

	m := mem.Phys_init(256)
	as, err := vm.Mkvm(m)
	if err != 0 {
		t.Fatalf("Mkvm: %v", err)
	}
	p, ierr := pt.Init(as, cwd)
	if ierr != 0 {
		t.Fatalf("Init: %v", ierr)
	}

	entry, sp, argc, eerr := pt.Exec(p, fsys, ustr.Ustr("/prog"), nil, m)
	if eerr != 0 {
		t.Fatalf("Exec: %v", eerr)
	}
	if entry != 16 {
		t.Fatalf("entry = %#x, want 0x10", entry)
	}
	if sp == 0 || argc != 0 {
		t.Fatalf("Exec returned sp=%#x argc=%d, want sp nonzero, argc 0", sp, argc)
	}

	got := make([]byte, len("fake-binary"))
	if cerr := p.Vm.Copy_in(entry, got); cerr != 0 {
		t.Fatalf("Copy_in from mapped text: %v", cerr)
	}
	if string(got) != "fake-binary" {
		t.Fatalf("mapped text = %q, want \"fake-binary\"", got)
	}
}

func TestExecBadELFMagicFails(t *testing.T) {
	pt := MkPtable()
	fsys, cwd := mkExecFS(t, []byte("not an elf file"))
	m := mem.Phys_init(256)
	as, _ := vm.Mkvm(m)
	p, ierr := pt.Init(as, cwd)
	if ierr != 0 {
		t.Fatalf("Init: %v", ierr)
	}

	if _, _, _, err := pt.Exec(p, fsys, ustr.Ustr("/prog"), nil, m); err != -defs.ENOEXEC {
		t.Fatalf("Exec on garbage image = %v, want ENOEXEC", err)
	}
}

func TestExecArgvPushedOntoStack(t *testing.T) {
	pt := MkPtable()
	image := buildELF(make([]byte, 4096), 0)
	fsys, cwd := mkExecFS(t, image)

	m := mem.Phys_init(256)
	as, _ := vm.Mkvm(m)
	p, ierr := pt.Init(as, cwd)
	if ierr != 0 {
		t.Fatalf("Init: %v", ierr)
	}

	argv := []ustr.Ustr{ustr.Ustr("/prog"), ustr.Ustr("hello")}
	_, sp, argc, err := pt.Exec(p, fsys, ustr.Ustr("/prog"), argv, m)
	if err != 0 {
		t.Fatalf("Exec: %v", err)
	}
	if argc != len(argv) {
		t.Fatalf("argc = %d, want %d", argc, len(argv))
	}

	buf := make([]byte, 16)
	if cerr := p.Vm.Copy_in(sp, buf); cerr != 0 {
		t.Fatalf("Copy_in argv pointer array: %v", cerr)
	}
	var ptrs [2]uint64
	for i := 0; i < 2; i++ {
		for b := 0; b < 8; b++ {
			ptrs[i] |= uint64(buf[i*8+b]) << (8 * b)
		}
	}
	for i, want := range argv {
		got, gerr := p.Vm.Copy_in_str(uintptr(ptrs[i]), 64)
		if gerr != 0 {
			t.Fatalf("Copy_in_str(argv[%d]): %v", i, gerr)
		}
		if !got.Eq(want) {
			t.Fatalf("argv[%d] = %q, want %q", i, got, want)
		}
	}
}

func TestExecTooManyArgsFails(t *testing.T) {
	pt := MkPtable()
	image := buildELF(make([]byte, 4096), 0)
	fsys, cwd := mkExecFS(t, image)
	m := mem.Phys_init(256)
	as, _ := vm.Mkvm(m)
	p, ierr := pt.Init(as, cwd)
	if ierr != 0 {
		t.Fatalf("Init: %v", ierr)
	}

	argv := make([]ustr.Ustr, MAXARG+1)
	for i := range argv {
		argv[i] = ustr.Ustr("x")
	}
	if _, _, _, err := pt.Exec(p, fsys, ustr.Ustr("/prog"), argv, m); err != -defs.E2BIG {
		t.Fatalf("Exec with too many args = %v, want E2BIG", err)
	}
}

func TestExecArgListExhaustsStackFails(t *testing.T) {
	pt := MkPtable()
	image := buildELF(make([]byte, 4096), 0)
	fsys, cwd := mkExecFS(t, image)
	m := mem.Phys_init(256)
	as, _ := vm.Mkvm(m)
	p, ierr := pt.Init(as, cwd)
	if ierr != 0 {
		t.Fatalf("Init: %v", ierr)
	}

	oldAs := p.Vm
	big := make([]byte, 5000)
	for i := range big {
		big[i] = 'a'
	}
	argv := []ustr.Ustr{ustr.Ustr(big)}
	if _, _, _, err := pt.Exec(p, fsys, ustr.Ustr("/prog"), argv, m); err != -defs.E2BIG {
		t.Fatalf("Exec with an oversized arg list = %v, want E2BIG", err)
	}
	if p.Vm != oldAs {
		t.Fatalf("a failed Exec must leave the process's address space unchanged")
	}
}

func TestSbrkGrowsHeapAndIsMapped(t *testing.T) {
	pt := MkPtable()
	image := buildELF(make([]byte, 64), 0)
	fsys, cwd := mkExecFS(t, image)

	m := mem.Phys_init(256)
	as, _ := vm.Mkvm(m)
	p, ierr := pt.Init(as, cwd)
	if ierr != 0 {
		t.Fatalf("Init: %v", ierr)
	}
	if _, _, _, err := pt.Exec(p, fsys, ustr.Ustr("/prog"), nil, m); err != 0 {
		t.Fatalf("Exec: %v", err)
	}

	old, err := p.Sbrk(0)
	if err != 0 {
		t.Fatalf("Sbrk(0): %v", err)
	}

	grown, err := p.Sbrk(4096)
	if err != 0 {
		t.Fatalf("Sbrk(4096): %v", err)
	}
	if grown != old {
		t.Fatalf("Sbrk should return the break's prior value: got %#x, want %#x", grown, old)
	}

	buf := []byte("heap-write")
	if err := p.Vm.Copy_out(old, buf); err != 0 {
		t.Fatalf("Copy_out into newly-grown heap: %v", err)
	}
}

func TestSbrkNegativeDeltaIsNoop(t *testing.T) {
	pt := MkPtable()
	image := buildELF(make([]byte, 64), 0)
	fsys, cwd := mkExecFS(t, image)
	m := mem.Phys_init(256)
	as, _ := vm.Mkvm(m)
	p, ierr := pt.Init(as, cwd)
	if ierr != 0 {
		t.Fatalf("Init: %v", ierr)
	}
	pt.Exec(p, fsys, ustr.Ustr("/prog"), nil, m)

	before, _ := p.Sbrk(0)
	after, err := p.Sbrk(-100)
	if err != 0 {
		t.Fatalf("Sbrk(-100): %v", err)
	}
	if after != before {
		t.Fatalf("Sbrk with a negative delta changed the break: %#x -> %#x", before, after)
	}
}
