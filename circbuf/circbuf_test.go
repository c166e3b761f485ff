package circbuf

import (
	"bytes"
	"testing"
)

func TestCircbufBasic(t *testing.T) {
	var cb Circbuf_t
	cb.Init(4)

	if !cb.Empty() || cb.Full() {
		t.Fatalf("fresh buffer should be empty, not full")
	}
	if n := cb.Copyin([]uint8("ab")); n != 2 {
		t.Fatalf("Copyin = %d, want 2", n)
	}
	if cb.Used() != 2 || cb.Left() != 2 {
		t.Fatalf("Used/Left = %d/%d, want 2/2", cb.Used(), cb.Left())
	}

	dst := make([]uint8, 2)
	if n := cb.Copyout(dst); n != 2 || !bytes.Equal(dst, []uint8("ab")) {
		t.Fatalf("Copyout = %d %q, want 2 \"ab\"", n, dst)
	}
	if !cb.Empty() {
		t.Fatalf("buffer should be empty after draining")
	}
}

func TestCircbufWraparound(t *testing.T) {
	var cb Circbuf_t
	cb.Init(4)

	cb.Copyin([]uint8("ab"))
	out := make([]uint8, 1)
	cb.Copyout(out) // tail now at 1, head at 2

	cb.Copyin([]uint8("cde")) // all 3 bytes fit (Left()==3), wrapping past the end
	if cb.Left() != 0 {
		t.Fatalf("Left() = %d, want 0 after filling", cb.Left())
	}

	got := make([]uint8, 4)
	n := cb.Copyout(got)
	if n != 4 {
		t.Fatalf("Copyout = %d, want 4", n)
	}
	if !bytes.Equal(got[:n], []uint8("bcde")) {
		t.Fatalf("Copyout = %q, want \"bcde\"", got[:n])
	}
}

func TestCircbufFullAndEmptyNoop(t *testing.T) {
	var cb Circbuf_t
	cb.Init(2)
	cb.Copyin([]uint8("xy"))
	if !cb.Full() {
		t.Fatalf("buffer should be full")
	}
	if n := cb.Copyin([]uint8("z")); n != 0 {
		t.Fatalf("Copyin into a full buffer returned %d, want 0", n)
	}

	var empty Circbuf_t
	empty.Init(2)
	if n := empty.Copyout(make([]uint8, 2)); n != 0 {
		t.Fatalf("Copyout of an empty buffer returned %d, want 0", n)
	}
}
