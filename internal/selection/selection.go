// Package selection implements the policies that pick the next message
// index out of an eligible subset.
//
// Policies are not safe for concurrent use; the broadcast engine owns them
// and calls Next from its serialized tick.
package selection

import (
	"errors"
	"math/rand/v2"
	"strings"
)

var ErrNoEligibleMessages = errors.New("no eligible messages")

type Mode int

const (
	Sequential Mode = iota
	FullRandom
	ShuffleRandom
)

func (m Mode) String() string {
	switch m {
	case Sequential:
		return "Sequential"
	case FullRandom:
		return "FullRandom"
	case ShuffleRandom:
		return "ShuffleRandom"
	default:
		return "Unknown"
	}
}

// ParseMode accepts the mode names case-insensitively, with or without
// an underscore ("shuffle_random").
func ParseMode(s string) (Mode, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
	switch s {
	case "sequential":
		return Sequential, true
	case "fullrandom", "random":
		return FullRandom, true
	case "shufflerandom", "shuffle":
		return ShuffleRandom, true
	}
	return Sequential, false
}

// Policy returns indices in [0, n) of an eligible subset of length n.
//
// A call with a different n than the previous one resets the policy before
// drawing. Callers that swap membership without changing the length must
// call Reset themselves.
type Policy interface {
	Next(n int) (int, error)
	Reset()
	Mode() Mode
}

// New returns a fresh policy for mode. A nil rng gets a randomly seeded one.
func New(mode Mode, rng *rand.Rand) Policy {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	switch mode {
	case FullRandom:
		return &fullRandom{rng: rng}
	case ShuffleRandom:
		return &shuffle{rng: rng}
	default:
		return &sequential{last: -1}
	}
}

type sequential struct {
	n    int
	last int
}

func (p *sequential) Mode() Mode { return Sequential }

func (p *sequential) Reset() { p.n, p.last = 0, -1 }

func (p *sequential) Next(n int) (int, error) {
	if n <= 0 {
		return 0, ErrNoEligibleMessages
	}
	if n != p.n {
		p.Reset()
		p.n = n
	}
	p.last = (p.last + 1) % n
	return p.last, nil
}

type fullRandom struct {
	rng *rand.Rand
}

func (p *fullRandom) Mode() Mode { return FullRandom }

func (p *fullRandom) Reset() {}

func (p *fullRandom) Next(n int) (int, error) {
	if n <= 0 {
		return 0, ErrNoEligibleMessages
	}
	return p.rng.IntN(n), nil
}

type shuffle struct {
	rng       *rand.Rand
	n         int
	remaining []int
}

func (p *shuffle) Mode() Mode { return ShuffleRandom }

func (p *shuffle) Reset() { p.n, p.remaining = 0, nil }

func (p *shuffle) Next(n int) (int, error) {
	if n <= 0 {
		return 0, ErrNoEligibleMessages
	}
	if n != p.n {
		p.Reset()
		p.n = n
	}
	if len(p.remaining) == 0 {
		p.remaining = p.rng.Perm(n)
	}
	i := p.remaining[0]
	p.remaining = p.remaining[1:]
	return i, nil
}

// Remaining reports how many draws are left in the current shuffle cycle.
// It is zero for non-shuffle policies.
func Remaining(p Policy) int {
	if s, ok := p.(*shuffle); ok {
		return len(s.remaining)
	}
	return 0
}
