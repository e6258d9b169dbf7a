package icc

import (
	"math/rand/v2"

	"github.com/roach88/midrel/internal/stage"
)

// DefaultStep is the spacing of subsample sizes.
const DefaultStep = 50

// Sizes lists min, min+step, ... while the value is below max+step, so the
// last size reaches or passes max.
func Sizes(min, max, step int) ([]int, error) {
	if step <= 0 {
		return nil, stage.Invalid("subsample step must be positive, got %d", step)
	}
	if min <= 1 || max < min {
		return nil, stage.Invalid("bad subsample range %d..%d", min, max)
	}
	var out []int
	for n := min; n < max+step; n += step {
		out = append(out, n)
	}
	return out, nil
}

// Sampler draws subject samples with replacement from one seeded stream.
// Successive draws continue the stream, so a sequence of sizes is
// reproducible from the seed alone.
type Sampler struct {
	Seed int64
	rng  *rand.Rand
}

// NewSampler seeds a sampler.
func NewSampler(seed int64) *Sampler {
	return &Sampler{Seed: seed, rng: rand.New(rand.NewPCG(uint64(seed), 0x6d6964))}
}

// Draw returns n subjects drawn with replacement and the number of distinct
// subjects among them.
func (s *Sampler) Draw(subjects []string, n int) ([]string, int, error) {
	if len(subjects) == 0 {
		return nil, 0, stage.Mismatch("cannot subsample an empty subject list")
	}
	out := make([]string, n)
	unique := make(map[string]bool, n)
	for i := range out {
		out[i] = subjects[s.rng.IntN(len(subjects))]
		unique[out[i]] = true
	}
	return out, len(unique), nil
}
