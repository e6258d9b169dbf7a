package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/midrel/internal/artifact"
	"github.com/roach88/midrel/internal/stage"
)

func TestReadSubjects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subjects.txt")
	writeFile(t, path, "sub-03\n\n01\n  sub-02  \n")

	got, err := ReadSubjects(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"03", "01", "02"}, got)

	writeFile(t, path, "01\nsub-01\n")
	_, err = ReadSubjects(path)
	assert.True(t, stage.IsInvalid(err))

	_, err = ReadSubjects(filepath.Join(t.TempDir(), "missing.txt"))
	assert.True(t, stage.IsMissingInput(err))
}

func TestSelectSubjectsFollowsListOrder(t *testing.T) {
	dir := "/maps"
	a := fixedKey("01", "1").Path(dir)
	b := fixedKey("02", "1").Path(dir)
	c := fixedKey("03", "1").Path(dir)

	got, err := SelectSubjects([]string{a, b, c}, []string{"03", "01"})
	require.NoError(t, err)
	assert.Equal(t, []string{c, a}, got)

	_, err = SelectSubjects([]string{a, b}, []string{"04"})
	assert.True(t, stage.IsMissingInput(err))

	group := artifact.Key{Level: artifact.LevelGroup, Subs: 3, Session: "1", Task: "MID",
		Contrast: "Lgain-Neut", Permutation: testPerm(), Stat: artifact.StatTStat}
	_, err = SelectSubjects([]string{group.Path(dir)}, []string{"01"})
	assert.True(t, stage.IsInvalid(err))
}
