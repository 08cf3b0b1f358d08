package selection

import (
	"errors"
	"math/rand/v2"
	"testing"
)

func seeded() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func TestParseMode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"Sequential", Sequential, true},
		{"fullrandom", FullRandom, true},
		{"FullRandom", FullRandom, true},
		{"shuffle_random", ShuffleRandom, true},
		{" ShuffleRandom ", ShuffleRandom, true},
		{"roundrobin", Sequential, false},
		{"", Sequential, false},
	}
	for _, tc := range cases {
		got, ok := ParseMode(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseMode(%q)=(%v,%v), want (%v,%v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestEmptySubset(t *testing.T) {
	t.Parallel()

	for _, m := range []Mode{Sequential, FullRandom, ShuffleRandom} {
		p := New(m, seeded())
		if _, err := p.Next(0); !errors.Is(err, ErrNoEligibleMessages) {
			t.Fatalf("%v: err=%v, want ErrNoEligibleMessages", m, err)
		}
	}
}

func TestSequentialVisitsInOrderAndWraps(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 7} {
		p := New(Sequential, nil)
		for want := 0; want < n; want++ {
			got, err := p.Next(n)
			if err != nil || got != want {
				t.Fatalf("n=%d: Next()=(%d,%v), want %d", n, got, err, want)
			}
		}
		if got, _ := p.Next(n); got != 0 {
			t.Fatalf("n=%d: call n+1 should wrap to 0, got %d", n, got)
		}
	}
}

func TestShuffleCycleHasNoRepeats(t *testing.T) {
	t.Parallel()

	const n = 9
	p := New(ShuffleRandom, seeded())
	for cycle := 0; cycle < 50; cycle++ {
		seen := make(map[int]bool, n)
		for i := 0; i < n; i++ {
			idx, err := p.Next(n)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if idx < 0 || idx >= n {
				t.Fatalf("index %d out of range", idx)
			}
			if seen[idx] {
				t.Fatalf("cycle %d repeated index %d", cycle, idx)
			}
			seen[idx] = true
		}
		if Remaining(p) != 0 {
			t.Fatalf("cycle should be exhausted, remaining=%d", Remaining(p))
		}
	}
}

func TestShuffleFirstPositionUniform(t *testing.T) {
	t.Parallel()

	const (
		n      = 5
		cycles = 10000
	)
	p := New(ShuffleRandom, seeded())
	counts := make([]int, n)
	for c := 0; c < cycles; c++ {
		first, _ := p.Next(n)
		counts[first]++
		for i := 1; i < n; i++ {
			_, _ = p.Next(n)
		}
	}
	// Expected 2000 each; the bounds are many standard deviations wide.
	for idx, c := range counts {
		if c < 1500 || c > 2500 {
			t.Fatalf("index %d led %d cycles; distribution %v", idx, c, counts)
		}
	}
}

func TestFullRandomCoversRangeAndRepeats(t *testing.T) {
	t.Parallel()

	const n = 6
	p := New(FullRandom, seeded())
	seen := make(map[int]bool, n)
	repeated := false
	prev := -1
	for i := 0; i < 2000; i++ {
		idx, err := p.Next(n)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		seen[idx] = true
		if idx == prev {
			repeated = true
		}
		prev = idx
	}
	if len(seen) != n {
		t.Fatalf("saw %d distinct indices, want %d", len(seen), n)
	}
	if !repeated {
		t.Fatal("expected at least one consecutive repeat")
	}
}

func TestShrinkingSubsetResets(t *testing.T) {
	t.Parallel()

	for _, m := range []Mode{Sequential, ShuffleRandom} {
		p := New(m, seeded())
		for i := 0; i < 7; i++ {
			_, _ = p.Next(10)
		}
		for i := 0; i < 20; i++ {
			idx, err := p.Next(3)
			if err != nil || idx < 0 || idx >= 3 {
				t.Fatalf("%v: Next(3)=(%d,%v) after shrink", m, idx, err)
			}
		}
	}

	p := New(Sequential, nil)
	_, _ = p.Next(10)
	_, _ = p.Next(10)
	if got, _ := p.Next(4); got != 0 {
		t.Fatalf("sequential should restart at 0 after a size change, got %d", got)
	}
	_, _ = p.Next(4)
	p.Reset()
	if got, _ := p.Next(4); got != 0 {
		t.Fatalf("Reset should restart at 0, got %d", got)
	}
}
