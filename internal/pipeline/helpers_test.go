package pipeline

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/midrel/internal/artifact"
	"github.com/roach88/midrel/internal/store"
	"github.com/roach88/midrel/internal/volume"
)

func testAffine() [3][4]float64 {
	return [3][4]float64{{-2, 0, 0, 90}, {0, 2, 0, -126}, {0, 0, 2, -72}}
}

func testPerm() artifact.Permutation {
	return artifact.Permutation{FWHM: 0, Motion: "opt1", Model: "CueMod", Mask: "brain"}
}

// openLedger opens a ledger in a temp dir.
func openLedger(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// writeMap writes a 3-D map of the given voxel values under k's name in dir.
func writeTestMap(t *testing.T, dir string, k artifact.Key, vals []float64) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	v := volume.New([4]int{len(vals), 1, 1, 1}, [3]float64{2, 2, 2}, testAffine())
	copy(v.Data, vals)
	path := k.Path(dir)
	require.NoError(t, volume.Write(path, v))
	return path
}

// writeTestMask writes a 3-D mask image on the writeTestMap grid.
func writeTestMask(t *testing.T, path string, vals []float64) {
	t.Helper()
	v := volume.New([4]int{len(vals), 1, 1, 1}, [3]float64{2, 2, 2}, testAffine())
	copy(v.Data, vals)
	require.NoError(t, volume.Write(path, v))
}

func readTestMap(t *testing.T, path string) []float64 {
	t.Helper()
	v, err := volume.Read(path)
	require.NoError(t, err)
	return v.Data
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// mid describes a synthetic MID run.
type mid struct {
	tr      float64
	volumes int
}

// writeEvents writes an ahrb-style event table: one trial every 10 s
// cycling through three cue types.
func (m mid) writeEvents(t *testing.T, path string) {
	t.Helper()
	types := []string{"LargeGain", "SmallGain", "NoMoneyStake"}
	results := []string{"Hit", "Miss"}
	var b strings.Builder
	b.WriteString("CUE_ONSET\tCUE_DURATION\tFIXATION_ONSET\tFIXATION_DURATION\tFEEDBACK_ONSET\tFEEDBACK_DURATION\tTRIAL_TYPE\tTRIAL_RESULT\n")
	last := m.tr * float64(m.volumes)
	for i := 0; 10*float64(i)+12 < last; i++ {
		on := 2 + 10*float64(i)
		fmt.Fprintf(&b, "%g\t2\t%g\t2\t%g\t2\t%s\t%s\n", on, on+2, on+6, types[i%3], results[(i/3)%2])
	}
	writeFile(t, path, b.String())
}

// writeConfounds writes cosine and motion columns.
func (m mid) writeConfounds(t *testing.T, path string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("cosine00\tcosine01\ttrans_x\tframewise_displacement\n")
	for i := 0; i < m.volumes; i++ {
		x := float64(i) / float64(m.volumes)
		fd := "n/a"
		if i > 0 {
			fd = fmt.Sprintf("%g", 0.1+0.01*float64(i%5))
		}
		fmt.Fprintf(&b, "%g\t%g\t%g\t%s\n", math.Cos(math.Pi*x), math.Cos(2*math.Pi*x), 0.01*math.Sin(float64(i)), fd)
	}
	writeFile(t, path, b.String())
}

// writeBOLD writes a 4-D series whose voxels follow X·beta[v] plus small
// white noise. beta[v] is indexed by design column.
func (m mid) writeBOLD(t *testing.T, path string, X func(row, col int) float64, cols int, betas [][]float64) {
	t.Helper()
	nv := len(betas)
	v := volume.New([4]int{nv, 1, 1, m.volumes}, [3]float64{2, 2, 2}, testAffine())
	rng := rand.New(rand.NewPCG(7, 11))
	for tt := 0; tt < m.volumes; tt++ {
		for i := 0; i < nv; i++ {
			var y float64
			for j := 0; j < cols; j++ {
				y += X(tt, j) * betas[i][j]
			}
			v.Set(i, tt, y+0.05*rng.NormFloat64())
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, volume.Write(path, v))
}
