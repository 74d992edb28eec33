package bot

import "math/rand/v2"

// Random is the randomness an automaton consumes.
type Random interface {
	// Bool returns a fair coin flip.
	Bool() bool
	// IntN returns a value in [0, n).
	IntN(n int) int
	// Float64 returns a value in [0, 1).
	Float64() float64
}

type pcgRandom struct {
	r *rand.Rand
}

// NewRandom returns an independent PCG-backed generator.
func NewRandom(seed uint64) Random {
	return pcgRandom{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (p pcgRandom) Bool() bool       { return p.r.IntN(2) == 0 }
func (p pcgRandom) IntN(n int) int   { return p.r.IntN(n) }
func (p pcgRandom) Float64() float64 { return p.r.Float64() }
