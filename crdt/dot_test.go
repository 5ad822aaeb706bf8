package crdt

import (
	"errors"
	"testing"

	"github.com/oetyng/safe-nd/wire"
)

func actor(b byte) Actor {
	var a Actor
	for i := range a {
		a[i] = b
	}
	return a
}

func TestDotCompare(t *testing.T) {
	a, b := actor(1), actor(2)
	cases := []struct {
		x, y Dot
		want int
	}{
		{Dot{a, 1}, Dot{a, 1}, 0},
		{Dot{a, 1}, Dot{a, 2}, -1},
		{Dot{a, 9}, Dot{b, 1}, -1}, // actor-major
		{Dot{b, 1}, Dot{a, 9}, 1},
	}
	for _, c := range cases {
		if got := c.x.Compare(c.y); got != c.want {
			t.Errorf("%s vs %s: got %d want %d", c.x, c.y, got, c.want)
		}
	}
}

func TestClockCompare(t *testing.T) {
	a, b := actor(1), actor(2)

	cases := []struct {
		name string
		x, y Clock
		want Ordering
	}{
		{"equal", Clock{a: 1}, Clock{a: 1}, Equal},
		{"both empty", Clock{}, Clock{}, Equal},
		{"greater", Clock{a: 2}, Clock{a: 1}, Greater},
		{"less", Clock{a: 1, b: 1}, Clock{a: 2, b: 1}, Less},
		{"concurrent", Clock{a: 2, b: 1}, Clock{a: 1, b: 2}, Concurrent},
		{"dominates absent", Clock{a: 1}, Clock{}, Greater},
	}
	for _, c := range cases {
		if got := CompareClocks(c.x, c.y); got != c.want {
			t.Errorf("%s: got %v want %v", c.name, got, c.want)
		}
	}
}

func TestClockWitnessAndJoin(t *testing.T) {
	a, b := actor(1), actor(2)

	c := Clock{a: 3}
	c.Witness(Dot{a, 2}) // lower counter, no effect
	if c.Get(a) != 3 {
		t.Fatal("witness must not lower a counter")
	}
	c.Witness(Dot{b, 5})
	if c.Get(b) != 5 {
		t.Fatal("witness must raise a counter")
	}

	j := Clock{a: 1, b: 9}.Join(Clock{a: 4})
	if j.Get(a) != 4 || j.Get(b) != 9 {
		t.Fatalf("join mismatch: %v", j)
	}
	// Join must not mutate its receiver.
	base := Clock{a: 1}
	_ = base.Join(Clock{a: 7})
	if base.Get(a) != 1 {
		t.Fatal("join mutated receiver")
	}
}

func TestClockEncodeDeterministic(t *testing.T) {
	a, b := actor(1), actor(2)
	enc := func(c Clock) []byte {
		w := wire.NewWriter(wire.TagSnapshot)
		c.EncodeTo(w)
		return w.Finish()
	}
	x := enc(Clock{a: 1, b: 2})
	y := enc(Clock{b: 2, a: 1})
	if string(x) != string(y) {
		t.Fatal("clock encoding must be order-independent")
	}

	r, err := wire.NewReader(wire.TagSnapshot, x)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeClock(r)
	if err != nil {
		t.Fatal(err)
	}
	if got.Get(a) != 1 || got.Get(b) != 2 || len(got) != 2 {
		t.Fatalf("decode mismatch: %v", got)
	}
}

func TestDecodeDotTruncated(t *testing.T) {
	w := wire.NewWriter(wire.TagSnapshot)
	Dot{actor(1), 4}.EncodeTo(w)
	b := w.Finish()

	r, err := wire.NewReader(wire.TagSnapshot, b[:10])
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeDot(r); !errors.Is(err, wire.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}
