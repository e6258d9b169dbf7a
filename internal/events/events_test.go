package events

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/midrel/internal/stage"
	"github.com/roach88/midrel/internal/tsv"
)

const abcdEvents = "Cue.OnsetTime\tCue.Duration\tAnticipation.OnsetTime\tAnticipation.Duration\tFeedback.OnsetTime\tFeedbackDuration\tCondition\tResult\n" +
	"10\t2\t12\t1.5\t14\t2\tLgReward\tLargeGainHit\n" +
	"20\t2\t22\t2.5\t25\t2\tTriangle\tNoMoneyStakeMiss\n"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadABCDRenamesAndDerives(t *testing.T) {
	path := writeFile(t, "events.tsv", abcdEvents)

	tbl, err := Load(path, CohortABCD)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())

	types, err := tbl.Labels(TrialType)
	require.NoError(t, err)
	assert.Equal(t, []string{"LargeGain", "NoMoneyStake"}, types)

	ant, err := tbl.Numbers(AnticipationDuration)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3.5, 4.5}, ant, 1e-12)

	fb, err := tbl.Numbers(FeedbackDuration)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2}, fb)
}

func TestLoadMLSUsesFixationNames(t *testing.T) {
	content := "Cue.OnsetTime\tCue.Duration\tFix.OnsetTime\tFix.Duration\tFeedback.OnsetTime\tFeedback.Duration\tCondition\tResult\n" +
		"1\t2\t3\t4\t5\t6\tSmallPun\tSmallLossHit\n"
	tbl, err := Load(writeFile(t, "events.tsv", content), CohortMLS)
	require.NoError(t, err)

	fix, err := tbl.Numbers(FixationOnset)
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, fix)
	types, err := tbl.Labels(TrialType)
	require.NoError(t, err)
	assert.Equal(t, []string{"SmallLoss"}, types)
}

func TestLoadAHRBKeepsCanonicalColumns(t *testing.T) {
	content := "CUE_ONSET\tCUE_DURATION\tFIXATION_ONSET\tFIXATION_DURATION\tFEEDBACK_ONSET\tFEEDBACK_DURATION\tTRIAL_TYPE\tTRIAL_RESULT\n" +
		"1\t2\t3\t4\t5\t6\tLgReward\tx\n"
	tbl, err := Load(writeFile(t, "events.tsv", content), CohortAHRB)
	require.NoError(t, err)

	types, err := tbl.Labels(TrialType)
	require.NoError(t, err)
	assert.Equal(t, []string{"LgReward"}, types, "synonyms apply to renamed cohorts only")
	assert.True(t, tbl.Has(AnticipationDuration))
}

func TestNumbersRejectsMissingTiming(t *testing.T) {
	raw, err := tsv.Read(strings.NewReader("CUE_ONSET\n1\nn/a\n"))
	require.NoError(t, err)
	tbl, err := Normalize(raw, CohortAHRB)
	require.NoError(t, err)

	_, err = tbl.Numbers(CueOnset)
	assert.True(t, stage.IsInvalid(err))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.tsv"), CohortAHRB)
	assert.True(t, stage.IsMissingInput(err))
}

func TestParseCohort(t *testing.T) {
	c, err := ParseCohort("MLS")
	require.NoError(t, err)
	assert.Equal(t, CohortMLS, c)

	_, err = ParseCohort("hcp")
	assert.Error(t, err)
}

func TestCanonicalTrialType(t *testing.T) {
	assert.Equal(t, "LargeLoss", CanonicalTrialType("LgPun"))
	assert.Equal(t, "LargeGain", CanonicalTrialType("LargeGain"))
}
