package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/midrel/internal/artifact"
	"github.com/roach88/midrel/internal/confounds"
	"github.com/roach88/midrel/internal/design"
	"github.com/roach88/midrel/internal/events"
	"github.com/roach88/midrel/internal/permute"
	"github.com/roach88/midrel/internal/stage"
	"github.com/roach88/midrel/internal/store"
	"github.com/roach88/midrel/internal/tsv"
)

var testRun = mid{tr: 2, volumes: 80}

func firstLevelFixture(t *testing.T, runs ...string) FirstLevelConfig {
	t.Helper()
	root := t.TempDir()
	lgNeut, _ := design.ParseContrast("Lgain-Neut", "LargeGain - NoMoneyStake")
	lgBase, _ := design.ParseContrast("Lgain-Base", "LargeGain")
	cfg := FirstLevelConfig{
		Sample:         events.CohortAHRB,
		Subject:        "01",
		Session:        "1",
		Task:           "MID",
		Runs:           []string{"01"},
		TR:             testRun.tr,
		Volumes:        testRun.volumes,
		HRF:            design.SPM,
		Axes:           permute.Axes{FWHM: []float64{0}, Motion: []string{"opt1"}, Model: []string{"CueMod"}, Mask: []string{"brain"}},
		Contrasts:      []design.Contrast{lgNeut, lgBase},
		EventsDir:      filepath.Join(root, "bids"),
		DerivativesDir: filepath.Join(root, "fmriprep"),
		OutDir:         filepath.Join(root, "out"),
		Efficiency:     true,
	}
	for _, run := range runs {
		writeRunInputs(t, cfg, run)
	}
	return cfg
}

// voxelBetas are the true coefficients of each synthetic voxel.
func voxelBetas(v int) map[string]float64 {
	return map[string]float64{
		"LargeGain":    2 + float64(v),
		"SmallGain":    1,
		"NoMoneyStake": 0.5,
		"Hit":          0.3,
		"Miss":         -0.2,
		"cosine00":     0.4,
		"cosine01":     -0.1,
		"constant":     100,
	}
}

func writeRunInputs(t *testing.T, cfg FirstLevelConfig, run string) {
	t.Helper()
	in := cfg.Inputs(run)
	testRun.writeEvents(t, in.Events)
	testRun.writeConfounds(t, in.Confounds)

	ev, err := events.Load(in.Events, cfg.Sample)
	require.NoError(t, err)
	tbl, err := tsv.ReadFile(in.Confounds)
	require.NoError(t, err)
	conf, err := confounds.Select(tbl, confounds.Opt1)
	require.NoError(t, err)
	dm, err := design.Build(ev, conf, design.Params{TR: cfg.TR, Volumes: cfg.Volumes, Model: design.CueMod, HRF: cfg.HRF})
	require.NoError(t, err)

	betas := make([][]float64, 3)
	for v := range betas {
		betas[v] = make([]float64, len(dm.Columns))
		for col, b := range voxelBetas(v) {
			j := dm.Index(col)
			require.GreaterOrEqual(t, j, 0, "column %s", col)
			betas[v][j] = b
		}
	}
	bold := strings.Replace(in.BOLD, "space-*", "space-MNI152NLin2009cAsym_res-2", 1)
	bold = strings.Replace(bold, ".nii*", ".nii.gz", 1)
	testRun.writeBOLD(t, bold, dm.X.At, len(dm.Columns), betas)
}

func TestFirstLevelRecoversContrasts(t *testing.T) {
	cfg := firstLevelFixture(t, "01")
	ledger := openLedger(t)
	env := Env{Ledger: ledger, IDs: NewIDList("run-fl")}

	report, err := FirstLevel(context.Background(), env, cfg)
	require.NoError(t, err)
	assert.Equal(t, "run-fl", report.RunID)
	assert.Len(t, report.Written, 6, "beta, var and residvar for two contrasts")
	assert.Zero(t, report.Failed)

	key := artifact.Key{
		Level: artifact.LevelRun, Subject: "01", Session: "1", Task: "MID", Run: "01",
		Contrast: "Lgain-Neut", Permutation: testPerm(), Stat: artifact.StatBeta,
	}
	beta := readTestMap(t, key.Path(cfg.OutDir))
	for v, got := range beta {
		want := voxelBetas(v)["LargeGain"] - voxelBetas(v)["NoMoneyStake"]
		assert.InDelta(t, want, got, 0.25, "voxel %d", v)
	}
	variance := readTestMap(t, key.WithStat(artifact.StatVar).Path(cfg.OutDir))
	for _, x := range variance {
		assert.Positive(t, x)
	}

	eff, err := tsv.ReadFile(cfg.EfficiencyPath("01"))
	require.NoError(t, err)
	assert.Equal(t, []string{"model", "run", "Lgain-Neut", "Lgain-Base"}, eff.Header)
	require.Equal(t, 1, eff.Len())
	assert.Equal(t, testPerm().Tag(), eff.Rows[0][0])

	run, err := ledger.ReadRun(context.Background(), "run-fl")
	require.NoError(t, err)
	assert.Equal(t, store.StatusOK, run.Status)
	assert.Equal(t, "firstlevel", run.Stage)

	arts, err := ledger.Artifacts(context.Background(), store.Filter{RunID: "run-fl"})
	require.NoError(t, err)
	assert.Len(t, arts, 6)

	rows, err := ledger.EfficiencyRows(context.Background(), "01")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Positive(t, rows[0].Value)
}

func TestFirstLevelResidVarScalesVariance(t *testing.T) {
	cfg := firstLevelFixture(t, "01")
	cfg.Contrasts = cfg.Contrasts[:1]
	_, err := FirstLevel(context.Background(), Env{}, cfg)
	require.NoError(t, err)

	eff, err := tsv.ReadFile(cfg.EfficiencyPath("01"))
	require.NoError(t, err)
	e, err := eff.Floats("Lgain-Neut", 0)
	require.NoError(t, err)

	key := artifact.Key{
		Level: artifact.LevelRun, Subject: "01", Session: "1", Task: "MID", Run: "01",
		Contrast: "Lgain-Neut", Permutation: testPerm(), Stat: artifact.StatVar,
	}
	variance := readTestMap(t, key.Path(cfg.OutDir))
	resid := readTestMap(t, key.WithStat(artifact.StatResidVar).Path(cfg.OutDir))
	for v := range variance {
		assert.InEpsilon(t, variance[v]*e[0], resid[v], 1e-4)
	}
}

func TestFirstLevelSavesDesign(t *testing.T) {
	cfg := firstLevelFixture(t, "01")
	cfg.SaveDesign = true
	cfg.Efficiency = false
	report, err := FirstLevel(context.Background(), Env{}, cfg)
	require.NoError(t, err)

	path := cfg.DesignPath("01", testPerm())
	assert.Contains(t, report.Written, path)
	assert.Equal(t, "sub-01_ses-1_task-MID_run-01_mot-opt1_mod-CueMod_design.tsv", filepath.Base(path))

	tbl, err := tsv.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Volumes, tbl.Len())
	assert.True(t, tbl.Has("constant"))
	assert.True(t, tbl.Has("cosine00"))
}

func TestFirstLevelMissingEvents(t *testing.T) {
	cfg := firstLevelFixture(t)
	_, err := FirstLevel(context.Background(), Env{}, cfg)
	require.Error(t, err)
	assert.True(t, stage.IsMissingInput(err), "got %v", err)
}

func TestFirstLevelKeepGoing(t *testing.T) {
	cfg := firstLevelFixture(t, "01")
	cfg.Runs = []string{"01", "02"}
	cfg.KeepGoing = true
	ledger := openLedger(t)

	report, err := FirstLevel(context.Background(), Env{Ledger: ledger, IDs: NewIDList("run-kg")}, cfg)
	require.Error(t, err)
	assert.True(t, stage.IsMissingInput(err))
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, report.Written, 6, "run 01 still fitted")

	run, err := ledger.ReadRun(context.Background(), "run-kg")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, run.Status)
}

func TestFirstLevelUnknownContrastColumn(t *testing.T) {
	cfg := firstLevelFixture(t, "01")
	loss, _ := design.ParseContrast("Lloss-Neut", "LargeLoss - NoMoneyStake")
	cfg.Contrasts = []design.Contrast{loss}

	_, err := FirstLevel(context.Background(), Env{}, cfg)
	require.Error(t, err)
	assert.True(t, stage.IsInvalid(err), "got %v", err)
}

func TestFirstLevelVolumeCountMismatch(t *testing.T) {
	cfg := firstLevelFixture(t, "01")
	cfg.Volumes = testRun.volumes + 1
	_, err := FirstLevel(context.Background(), Env{}, cfg)
	require.Error(t, err)
	assert.True(t, stage.IsInvalid(err))
}

func TestFirstLevelExclusionsSkipPermutations(t *testing.T) {
	cfg := firstLevelFixture(t, "01")
	cfg.Exclusions = permute.Exclusions{}
	cfg.Exclusions.Add("sub-01", "opt1")

	report, err := FirstLevel(context.Background(), Env{}, cfg)
	require.NoError(t, err)
	assert.Empty(t, report.Written)
	_, statErr := os.Stat(cfg.EfficiencyPath("01"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFirstLevelRejectsEmptyConfig(t *testing.T) {
	_, err := FirstLevel(context.Background(), Env{}, FirstLevelConfig{})
	assert.True(t, stage.IsInvalid(err))
}

func TestFirstLevelRejectsReservedLabels(t *testing.T) {
	for name, mutate := range map[string]func(*FirstLevelConfig){
		"subject": func(c *FirstLevelConfig) { c.Subject = "a_b" },
		"session": func(c *FirstLevelConfig) { c.Session = "1 2" },
		"run":     func(c *FirstLevelConfig) { c.Runs = []string{"01", "0/2"} },
		"noise":   func(c *FirstLevelConfig) { c.NoiseModel = "ar2" },
		"axes":    func(c *FirstLevelConfig) { c.Axes.Mask = []string{"a_b"} },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := firstLevelFixture(t, "01")
			mutate(&cfg)
			var err error
			require.NotPanics(t, func() { _, err = FirstLevel(context.Background(), Env{}, cfg) })
			assert.True(t, stage.IsInvalid(err), "got %v", err)
		})
	}
}

func TestFirstLevelOLSNoiseModel(t *testing.T) {
	cfg := firstLevelFixture(t, "01")
	cfg.NoiseModel = NoiseOLS
	cfg.Efficiency = false

	report, err := FirstLevel(context.Background(), Env{}, cfg)
	require.NoError(t, err)
	assert.Len(t, report.Written, 4)

	key := artifact.Key{
		Level: artifact.LevelRun, Subject: "01", Session: "1", Task: "MID", Run: "01",
		Contrast: "Lgain-Base", Permutation: testPerm(), Stat: artifact.StatBeta,
	}
	beta := readTestMap(t, key.Path(cfg.OutDir))
	for v, got := range beta {
		assert.InDelta(t, voxelBetas(v)["LargeGain"], got, 0.25, "voxel %d", v)
	}

	m, err := ParseNoiseModel("")
	require.NoError(t, err)
	assert.Equal(t, NoiseAR1, m)
}

func TestInputsFollowBIDSLayout(t *testing.T) {
	cfg := FirstLevelConfig{Subject: "07", Session: "2", Task: "MID", EventsDir: "/bids", DerivativesDir: "/deriv"}
	in := cfg.Inputs("01")
	assert.Equal(t, "/bids/sub-07/ses-2/func/sub-07_ses-2_task-MID_run-01_events.tsv", in.Events)
	assert.Equal(t, "/deriv/sub-07/ses-2/func/sub-07_ses-2_task-MID_run-01_desc-confounds_timeseries.tsv", in.Confounds)
	assert.Equal(t, "/deriv/sub-07/ses-2/func/sub-07_ses-2_task-MID_run-01_space-*_desc-preproc_bold.nii*", in.BOLD)
}
