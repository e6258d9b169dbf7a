// Package config loads the pipeline configuration: YAML decoded over the
// built-in defaults, then checked against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/midrel/internal/design"
	"github.com/roach88/midrel/internal/permute"
)

//go:embed schema.cue
var schemaCUE string

// Paths locates inputs and outputs.
type Paths struct {
	// Events is the root of the behavioural event tables.
	Events string `yaml:"events" json:"events"`
	// Derivatives is the fMRIPrep output root.
	Derivatives string `yaml:"derivatives" json:"derivatives"`
	Output      string `yaml:"output" json:"output"`
}

// ContrastSpec is a named contrast expression.
type ContrastSpec struct {
	Name string `yaml:"name" json:"name"`
	Expr string `yaml:"expr" json:"expr"`
}

// Subsample configures ICC subsampling.
type Subsample struct {
	MinN int   `yaml:"min_n" json:"min_n"`
	MaxN int   `yaml:"max_n" json:"max_n"`
	Step int   `yaml:"step" json:"step"`
	Seed int64 `yaml:"seed" json:"seed"`
}

// Config is the complete pipeline configuration.
type Config struct {
	Sample             string         `yaml:"sample" json:"sample"`
	Task               string         `yaml:"task" json:"task"`
	TR                 float64        `yaml:"tr" json:"tr"`
	Volumes            int            `yaml:"volumes" json:"volumes"`
	HRF                string         `yaml:"hrf" json:"hrf"`
	NoiseModel         string         `yaml:"noise_model" json:"noise_model"`
	SliceTimeCorrected bool           `yaml:"slice_time_corrected" json:"slice_time_corrected"`
	Runs               []string       `yaml:"runs" json:"runs"`
	Sessions           []string       `yaml:"sessions" json:"sessions"`
	Axes               permute.Axes   `yaml:"axes" json:"axes"`

	// Masks maps mask labels to image paths. A label without an entry fits
	// every voxel with signal.
	Masks             map[string]string `yaml:"masks" json:"masks"`
	Contrasts         []ContrastSpec    `yaml:"contrasts" json:"contrasts"`
	Paths             Paths             `yaml:"paths" json:"paths"`
	Efficiency        bool              `yaml:"efficiency" json:"efficiency"`
	PrecisionWeighted bool              `yaml:"precision_weighted" json:"precision_weighted"`
	Exclusions        string            `yaml:"exclusions,omitempty" json:"exclusions,omitempty"`
	Subsample         Subsample         `yaml:"subsample" json:"subsample"`
}

// Default returns the configuration of the original study.
func Default() *Config {
	var contrasts []ContrastSpec
	for _, c := range design.DefaultContrasts() {
		var terms []string
		for _, col := range c.Columns() {
			if c.Weights[col] < 0 {
				terms = append(terms, "- "+col)
			} else {
				terms = append(terms, "+ "+col)
			}
		}
		expr := strings.TrimPrefix(strings.Join(terms, " "), "+ ")
		contrasts = append(contrasts, ContrastSpec{Name: c.Name, Expr: expr})
	}
	return &Config{
		Sample:            "ahrb",
		Task:              "MID",
		TR:                0.8,
		Volumes:           407,
		HRF:               string(design.SPM),
		NoiseModel:        "ar1",
		Runs:              []string{"01", "02"},
		Sessions:          []string{"1"},
		Axes:              permute.DefaultAxes(),
		Masks:             map[string]string{},
		Contrasts:         contrasts,
		Paths:             Paths{Events: "bids", Derivatives: "derivatives/fmriprep", Output: "out"},
		Efficiency:        true,
		PrecisionWeighted: true,
		Subsample:         Subsample{MinN: 50, MaxN: 500, Step: 50, Seed: 100},
	}
}

// Load reads the YAML file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses YAML over the defaults and validates the result. Unknown
// fields are rejected.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidationError lists schema violations by field path.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Validate checks cfg against the schema, then parses every contrast.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		var problems []string
		for _, e := range cueerrors.Errors(err) {
			path := strings.Join(e.Path(), ".")
			format, args := e.Msg()
			problems = append(problems, fmt.Sprintf("%s: %s", path, fmt.Sprintf(format, args...)))
		}
		return &ValidationError{Problems: problems}
	}

	for _, spec := range c.Contrasts {
		if _, err := design.ParseContrast(spec.Name, spec.Expr); err != nil {
			return &ValidationError{Problems: []string{err.Error()}}
		}
	}
	return c.Axes.Validate()
}

// ParsedContrasts returns the contrasts as design contrasts, in order.
func (c *Config) ParsedContrasts() ([]design.Contrast, error) {
	out := make([]design.Contrast, 0, len(c.Contrasts))
	for _, spec := range c.Contrasts {
		con, err := design.ParseContrast(spec.Name, spec.Expr)
		if err != nil {
			return nil, err
		}
		out = append(out, con)
	}
	return out, nil
}

// MaskPath returns the image path of a mask label, or "" when the label
// has no image.
func (c *Config) MaskPath(label string) string {
	return c.Masks[label]
}
