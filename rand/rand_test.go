// SPDX-License-Identifier: GPL-2.0-or-later

package rand

import "testing"

func TestSameSeed(t *testing.T) {
	a, b := New(42), New(42)
	for i := 0; i < 100; i++ {
		if x, y := a.Uint32(), b.Uint32(); x != y {
			t.Fatalf("step %d: %v != %v", i, x, y)
		}
	}
	c := New(43)
	a.Seed(42)
	same := 0
	for i := 0; i < 100; i++ {
		if a.Uint32() == c.Uint32() {
			same++
		}
	}
	if same > 2 {
		t.Errorf("seeds 42 and 43 agree %d times", same)
	}
}

func TestRange(t *testing.T) {
	g := New(7)
	seen := make([]bool, 6)
	for i := 0; i < 1000; i++ {
		n := g.Intn(len(seen))
		if n < 0 || n >= len(seen) {
			t.Fatalf("Intn(%d) = %d", len(seen), n)
		}
		seen[n] = true
	}
	for i, s := range seen {
		if !s {
			t.Errorf("%d never returned", i)
		}
	}
}
