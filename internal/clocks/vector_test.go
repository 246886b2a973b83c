package clocks

import "testing"

func TestTickIncrements(t *testing.T) {
	v := New("server", "alice")
	if got := v.Tick("server"); got != 1 {
		t.Fatalf("first Tick(\"server\") = %d, want 1", got)
	}
	if got := v.Tick("server"); got != 2 {
		t.Fatalf("second Tick(\"server\") = %d, want 2", got)
	}
	if got := v.Tick("alice"); got != 1 {
		t.Fatalf("Tick(\"alice\") = %d, want 1", got)
	}
}

func TestCopyIsIndependent(t *testing.T) {
	v := New("server")
	v.Tick("server")

	cp := v.Copy()
	v.Tick("server")

	if cp.String() == v.String() {
		t.Fatalf("Copy() shares state with the original after a later Tick: %s == %s", cp.String(), v.String())
	}
}

func TestMergeTakesComponentwiseMax(t *testing.T) {
	a := New("server", "alice")
	a.Tick("server")
	a.Tick("server")
	a.Tick("alice")

	b := New("server", "alice", "bob")
	b.Tick("server")
	b.Tick("bob")
	b.Tick("bob")

	a.Merge(b)

	ids, values := a.ToSlice()
	got := make(map[string]int64, len(ids))
	for i, id := range ids {
		got[id] = values[i]
	}

	if got["server"] != 2 {
		t.Fatalf("server component after Merge() = %d, want 2 (max of 2 and 1)", got["server"])
	}
	if got["alice"] != 1 {
		t.Fatalf("alice component after Merge() = %d, want 1", got["alice"])
	}
	if got["bob"] != 2 {
		t.Fatalf("bob component after Merge() = %d, want 2 (introduced by Merge)", got["bob"])
	}
}

func TestHappensBefore(t *testing.T) {
	a := New("server")
	b := a.Copy()
	b.Tick("server")

	if !a.HappensBefore(b) {
		t.Fatalf("HappensBefore() = false, want true: a strictly precedes b")
	}
	if b.HappensBefore(a) {
		t.Fatalf("b.HappensBefore(a) = true, want false: b is ahead of a")
	}
	if a.HappensBefore(a) {
		t.Fatalf("a.HappensBefore(a) = true, want false: a clock never precedes itself")
	}
}

func TestStringFromStringRoundTrip(t *testing.T) {
	v := New("server", "alice")
	v.Tick("server")
	v.Tick("server")
	v.Tick("alice")

	s := v.String()

	out := New()
	if err := out.FromString(s); err != nil {
		t.Fatalf("FromString(%q) error = %v", s, err)
	}

	ids, values := out.ToSlice()
	got := make(map[string]int64, len(ids))
	for i, id := range ids {
		got[id] = values[i]
	}
	if got["server"] != 2 || got["alice"] != 1 {
		t.Fatalf("FromString(String()) round trip = %v, want server=2 alice=1", got)
	}
}

func TestFromStringRejectsMalformedComponent(t *testing.T) {
	v := New()
	if err := v.FromString("server"); err == nil {
		t.Fatalf("FromString(\"server\") = nil error, want error (missing \"=value\")")
	}
	if err := v.FromString("server=notanumber"); err == nil {
		t.Fatalf("FromString(\"server=notanumber\") = nil error, want error")
	}
}

func TestFromStringEmptyIsNoOp(t *testing.T) {
	v := New("server")
	v.Tick("server")
	if err := v.FromString(""); err != nil {
		t.Fatalf("FromString(\"\") error = %v", err)
	}
	if got := v.Tick("server"); got != 2 {
		t.Fatalf("state was altered by FromString(\"\"): next Tick = %d, want 2", got)
	}
}
