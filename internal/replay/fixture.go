package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/nudge-engine/internal/bandit"
	"github.com/danielpatrickdp/nudge-engine/internal/features"
)

// #region fixture-types

// Fixture is a recorded or synthetic sequence of interactions with the
// reward every arm would have earned.
type Fixture struct {
	Description  string               `json:"description" yaml:"description"`
	Config       FixtureConfig        `json:"config" yaml:"config"`
	Interactions []FixtureInteraction `json:"interactions" yaml:"interactions"`
}

// FixtureConfig overrides engine defaults. Zero values keep the default.
type FixtureConfig struct {
	NumArms        int      `json:"num_arms" yaml:"num_arms"`
	Alpha          *float64 `json:"alpha,omitempty" yaml:"alpha,omitempty"`
	Regularization float64  `json:"regularization,omitempty" yaml:"regularization,omitempty"`
}

// FixtureInteraction is one decision point. Rewards maps arm index to the
// reward that arm would receive; missing arms earn 0. Context, when set,
// is used as the feature vector instead of building it from Attributes.
type FixtureInteraction struct {
	SubjectID  string          `json:"subject_id" yaml:"subject_id"`
	Attributes map[string]any  `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Context    []float64       `json:"context,omitempty" yaml:"context,omitempty"`
	Rewards    map[int]float64 `json:"rewards" yaml:"rewards"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads a fixture file. .yaml and .yml files are parsed as YAML,
// anything else as JSON.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToConfig applies the fixture overrides on top of base.
func (fc FixtureConfig) ToConfig(base bandit.Config) bandit.Config {
	cfg := base
	if fc.NumArms > 0 {
		cfg.NumArms = fc.NumArms
	}
	if fc.Alpha != nil {
		cfg.Alpha = *fc.Alpha
	}
	if fc.Regularization > 0 {
		cfg.Regularization = fc.Regularization
	}
	return cfg
}

// Attrs returns the interaction attributes in builder form.
func (fi FixtureInteraction) Attrs() features.RawAttributes {
	return features.RawAttributes(fi.Attributes)
}

// WriteFixture writes f as YAML for .yaml and .yml paths, JSON otherwise.
func WriteFixture(path string, f *Fixture) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(f)
	default:
		data, err = json.MarshalIndent(f, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// #endregion fixture-loader
