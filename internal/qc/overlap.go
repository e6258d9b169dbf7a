package qc

import (
	"fmt"
	"strings"

	"github.com/roach88/midrel/internal/stage"
	"github.com/roach88/midrel/internal/volume"
)

// Similarity is an overlap coefficient between two binary images.
type Similarity string

const (
	Dice    Similarity = "dice"
	Jaccard Similarity = "jaccard"
)

// ParseSimilarity accepts dice or jaccard, case-insensitively.
func ParseSimilarity(s string) (Similarity, error) {
	switch m := Similarity(strings.ToLower(s)); m {
	case Dice, Jaccard:
		return m, nil
	}
	return "", stage.Invalid("unknown similarity %q: must be dice or jaccard", s)
}

// Overlap compares the first frames of a and b, treating voxels above zero
// as inside.
func Overlap(a, b *volume.Volume, kind Similarity) (float64, error) {
	if err := a.CheckGrid(b, "second image"); err != nil {
		return 0, err
	}
	var na, nb, both int
	fa, fb := a.Frame(0), b.Frame(0)
	for i := range fa {
		inA, inB := fa[i] > 0, fb[i] > 0
		if inA {
			na++
		}
		if inB {
			nb++
		}
		if inA && inB {
			both++
		}
	}
	if na+nb == 0 {
		return 0, stage.Invalid("both images are empty")
	}
	switch kind {
	case Dice:
		return 2 * float64(both) / float64(na+nb), nil
	case Jaccard:
		return float64(both) / float64(na+nb-both), nil
	}
	return 0, fmt.Errorf("unknown similarity %q", kind)
}
