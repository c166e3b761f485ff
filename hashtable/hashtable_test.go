package hashtable

import "testing"

func TestHashtableSetGetDel(t *testing.T) {
	ht := MkHash(8)

	if _, ok := ht.Get("missing"); ok {
		t.Fatalf("Get on empty table found something")
	}

	cases := []struct {
		key, val interface{}
	}{
		{"a", 1},
		{"b", 2},
		{Devino_t{Dev: 1, Inum: 7}, "inode"},
		{42, "int key"},
	}
	for _, c := range cases {
		if _, had := ht.Set(c.key, c.val); had {
			t.Fatalf("Set(%v) reported a pre-existing value", c.key)
		}
	}

	for _, c := range cases {
		got, ok := ht.Get(c.key)
		if !ok || got != c.val {
			t.Fatalf("Get(%v) = %v, %v; want %v, true", c.key, got, ok, c.val)
		}
	}

	if old, had := ht.Set("a", 100); !had || old != 1 {
		t.Fatalf("Set overwrite returned %v, %v; want 1, true", old, had)
	}
	got, _ := ht.Get("a")
	if got != 100 {
		t.Fatalf("Get(a) after overwrite = %v, want 100", got)
	}

	ht.Del("b")
	if _, ok := ht.Get("b"); ok {
		t.Fatalf("Get(b) still found after Del")
	}
	if ht.Size() != len(cases)-1 {
		t.Fatalf("Size() = %d, want %d", ht.Size(), len(cases)-1)
	}
}

func TestHashtableCollisions(t *testing.T) {
	ht := MkHash(1) // force every key into the same bucket
	for i := 0; i < 50; i++ {
		ht.Set(i, i*i)
	}
	for i := 0; i < 50; i++ {
		v, ok := ht.Get(i)
		if !ok || v != i*i {
			t.Fatalf("Get(%d) = %v, %v; want %d, true", i, v, ok, i*i)
		}
	}
	if ht.Size() != 50 {
		t.Fatalf("Size() = %d, want 50", ht.Size())
	}
}

func TestHashtableElems(t *testing.T) {
	ht := MkHash(4)
	want := map[interface{}]interface{}{"x": 1, "y": 2, "z": 3}
	for k, v := range want {
		ht.Set(k, v)
	}
	got := make(map[interface{}]interface{}, len(want))
	for _, p := range ht.Elems() {
		got[p.Key] = p.Value
	}
	if len(got) != len(want) {
		t.Fatalf("Elems() returned %d pairs, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("Elems()[%v] = %v, want %v", k, got[k], v)
		}
	}
}
