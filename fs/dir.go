package fs

import "riscvkern/ustr"

// DIRENTSZ is the size in bytes of one fixed-size directory entry:
// a 4-byte inode number followed by a 28-byte NUL-padded name.
const DIRENTSZ = 32
const direntNameLen = DIRENTSZ - 4

// Dirent_t is one decoded directory entry.
type Dirent_t struct {
	Inum int
	Name ustr.Ustr
}

func decodeDirent(b []uint8) Dirent_t {
	inum := int(b[0]) | int(b[1])<<8 | int(b[2])<<16 | int(b[3])<<24
	return Dirent_t{Inum: inum, Name: ustr.MkUstrSlice(b[4:])}
}

func encodeDirent(inum int, name ustr.Ustr, out []uint8) {
	out[0] = uint8(inum)
	out[1] = uint8(inum >> 8)
	out[2] = uint8(inum >> 16)
	out[3] = uint8(inum >> 24)
	for i := 4; i < DIRENTSZ; i++ {
		out[i] = 0
	}
	n := len(name)
	if n > direntNameLen {
		n = direntNameLen
	}
	copy(out[4:4+n], name[:n])
}
