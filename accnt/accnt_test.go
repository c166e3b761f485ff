package accnt

import "testing"

func TestAccntUtaddSystadd(t *testing.T) {
	var a Accnt_t
	a.Utadd(100)
	a.Utadd(50)
	a.Systadd(7)

	u, s := a.Snapshot()
	if u != 150 {
		t.Fatalf("Userns = %d, want 150", u)
	}
	if s != 7 {
		t.Fatalf("Sysns = %d, want 7", s)
	}
}

func TestAccntAdd(t *testing.T) {
	var a, b Accnt_t
	a.Utadd(10)
	a.Systadd(20)
	b.Utadd(5)
	b.Systadd(1)

	a.Add(&b)

	u, s := a.Snapshot()
	if u != 15 || s != 21 {
		t.Fatalf("Snapshot() = %d, %d; want 15, 21", u, s)
	}
}

func TestAccntToRusageShape(t *testing.T) {
	var a Accnt_t
	a.Utadd(2_000_000_000) // 2s
	a.Systadd(500_000)     // 0.5ms

	ru := a.Fetch()
	if len(ru) != 32 {
		t.Fatalf("Fetch() length = %d, want 32 (4 int64 fields)", len(ru))
	}
}

func TestAccntFinish(t *testing.T) {
	var a Accnt_t
	start := a.Now()
	a.Finish(start)
	_, s := a.Snapshot()
	if s < 0 {
		t.Fatalf("Sysns went negative: %d", s)
	}
}
