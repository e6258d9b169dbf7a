package tsv

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/midrel/internal/stage"
)

func TestReadBasic(t *testing.T) {
	in := "a\tb\n1\tn/a\n2.5\t3\n"
	tbl, err := Read(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, tbl.Header)
	assert.Equal(t, 2, tbl.Len())

	b, err := tbl.Floats("b", 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 3}, b)

	a, err := tbl.Floats("a", math.NaN())
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5}, a)
}

func TestReadUTF16WithBOM(t *testing.T) {
	text := "Cue.OnsetTime\tCondition\n1.5\tLgReward\n"
	units := utf16.Encode([]rune(text))
	buf := &bytes.Buffer{}
	buf.Write([]byte{0xFF, 0xFE})
	for _, u := range units {
		buf.WriteByte(byte(u))
		buf.WriteByte(byte(u >> 8))
	}

	tbl, err := Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cue.OnsetTime", "Condition"}, tbl.Header)
	vals, err := tbl.Strings("Condition")
	require.NoError(t, err)
	assert.Equal(t, []string{"LgReward"}, vals)
}

func TestReadUTF8BOMStripped(t *testing.T) {
	tbl, err := Read(strings.NewReader("\xEF\xBB\xBFonset\n1\n"))
	require.NoError(t, err)
	assert.True(t, tbl.Has("onset"))
}

func TestReadRaggedRow(t *testing.T) {
	_, err := Read(strings.NewReader("a\tb\n1\n"))
	require.Error(t, err)
	assert.True(t, stage.IsInvalid(err))
}

func TestFloatsRejectsText(t *testing.T) {
	tbl, err := Read(strings.NewReader("a\nabc\n"))
	require.NoError(t, err)
	_, err = tbl.Floats("a", 0)
	assert.True(t, stage.IsInvalid(err))
}

func TestMissingColumn(t *testing.T) {
	tbl, err := Read(strings.NewReader("a\n1\n"))
	require.NoError(t, err)
	_, err = tbl.Strings("zzz")
	assert.True(t, stage.IsMissingInput(err))
}

func TestRenameAndSet(t *testing.T) {
	tbl, err := Read(strings.NewReader("x\ty\n1\t2\n"))
	require.NoError(t, err)

	tbl.Rename(map[string]string{"x": "X"})
	assert.True(t, tbl.Has("X"))
	assert.False(t, tbl.Has("x"))

	require.NoError(t, tbl.SetStrings("z", []string{"q"}))
	z, err := tbl.Strings("z")
	require.NoError(t, err)
	assert.Equal(t, []string{"q"}, z)
	assert.Error(t, tbl.SetStrings("z", []string{"a", "b"}))
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.tsv"))
	assert.True(t, stage.IsMissingInput(err))
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.tsv")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, Write(f, []string{"a", "b"}, [][]string{{"1", FormatFloat(math.NaN())}}))
	require.NoError(t, f.Close())

	tbl, err := ReadFile(path)
	require.NoError(t, err)
	b, err := tbl.Floats("b", -1)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1}, b)
}
