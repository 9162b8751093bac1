// Package config resolves identify's settings. Sources are applied in
// order, later ones winning: built-in defaults, the YAML config file, a
// .env file in the working directory, IDENTIFY_* environment variables and
// finally command-line flags (applied by the cmd package).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"identify/internal/graph"
	"identify/internal/inference"
	"identify/internal/model"
	"identify/internal/vocab"
)

// DefaultPath is read when no config file is named and it exists.
const DefaultPath = "identify.yaml"

// Config holds every tunable of the pipeline.
type Config struct {
	Model           string  `yaml:"model" json:"model" jsonschema:"title=Model,description=Path to the model artifact"`
	Vocab           string  `yaml:"vocab" json:"vocab" jsonschema:"title=Vocabulary,description=Path to the ranked opcode-class vocabulary"`
	VocabSize       int     `yaml:"vocab_size" json:"vocabSize" jsonschema:"title=Vocabulary Size,description=Embedding table height including the two sentinels,minimum=3"`
	Threshold       float64 `yaml:"threshold" json:"threshold" jsonschema:"title=Threshold,description=Class-1 probability a candidate must exceed,minimum=0,maximum=1"`
	Mode            int     `yaml:"mode" json:"mode" jsonschema:"title=Mode,description=Decoder bitness for raw input,enum=32,enum=64"`
	SegmentCapacity int     `yaml:"segment_capacity" json:"segmentCapacity" jsonschema:"title=Segment Capacity,description=Edges per arena segment while building graphs,minimum=1"`
	// Aggregation overrides the model's aggregation when set.
	Aggregation string `yaml:"aggregation" json:"aggregation,omitempty" jsonschema:"title=Aggregation,description=Override the model aggregation,enum=,enum=sum,enum=mean"`
	// ReLUAfterLastLayer overrides the model's setting when set.
	ReLUAfterLastLayer *bool `yaml:"relu_after_last_layer" json:"reluAfterLastLayer,omitempty" jsonschema:"title=ReLU After Last Layer,description=Override whether the activation follows the final relational layer"`
	Jobs               int   `yaml:"jobs" json:"jobs" jsonschema:"title=Jobs,description=Graphs built concurrently in bulk mode,minimum=1"`
	Debug              bool  `yaml:"debug" json:"debug" jsonschema:"title=Debug,description=Enable debug logging"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		VocabSize:       vocab.DefaultSize,
		Threshold:       inference.DefaultThreshold,
		Mode:            32,
		SegmentCapacity: graph.DefaultSegmentCapacity,
		Jobs:            runtime.NumCPU(),
	}
}

// Load builds a configuration from the defaults, the YAML file at path
// (DefaultPath when empty, skipped if that does not exist), .env and the
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read config: %w", err)
	}

	_ = godotenv.Load()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	boolean := func(key string) (bool, bool, error) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return false, false, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false, fmt.Errorf("%s: %w", key, err)
		}
		return b, true, nil
	}

	str("IDENTIFY_MODEL", &c.Model)
	str("IDENTIFY_VOCAB", &c.Vocab)
	str("IDENTIFY_AGGREGATION", &c.Aggregation)
	for _, n := range []struct {
		key string
		dst *int
	}{
		{"IDENTIFY_VOCAB_SIZE", &c.VocabSize},
		{"IDENTIFY_MODE", &c.Mode},
		{"IDENTIFY_SEGMENT_CAPACITY", &c.SegmentCapacity},
		{"IDENTIFY_JOBS", &c.Jobs},
	} {
		if err := num(n.key, n.dst); err != nil {
			return err
		}
	}
	if v, ok := lookup("IDENTIFY_THRESHOLD"); ok && strings.TrimSpace(v) != "" {
		th, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("IDENTIFY_THRESHOLD: %w", err)
		}
		c.Threshold = th
	}
	if b, ok, err := boolean("IDENTIFY_RELU_AFTER_LAST_LAYER"); err != nil {
		return err
	} else if ok {
		c.ReLUAfterLastLayer = &b
	}
	if b, ok, err := boolean("IDENTIFY_DEBUG"); err != nil {
		return err
	} else if ok {
		c.Debug = b
	}
	return nil
}

// Validate rejects settings no command can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Threshold < 0 || c.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("threshold %v outside [0, 1)", c.Threshold))
	}
	if c.Mode != 32 && c.Mode != 64 {
		errs = append(errs, fmt.Errorf("mode %d, want 32 or 64", c.Mode))
	}
	if c.VocabSize < 3 {
		errs = append(errs, fmt.Errorf("vocab size %d, want at least 3", c.VocabSize))
	}
	if c.SegmentCapacity < 1 {
		errs = append(errs, fmt.Errorf("segment capacity %d, want at least 1", c.SegmentCapacity))
	}
	if c.Jobs < 1 {
		errs = append(errs, fmt.Errorf("jobs %d, want at least 1", c.Jobs))
	}
	switch c.Aggregation {
	case "", model.AggregateSum, model.AggregateMean:
	default:
		errs = append(errs, fmt.Errorf("aggregation %q, want %s or %s", c.Aggregation, model.AggregateSum, model.AggregateMean))
	}
	return errors.Join(errs...)
}

// Architecture overlays the configured overrides on arch.
func (c *Config) Architecture(arch model.Architecture) model.Architecture {
	if c.Aggregation != "" {
		arch.Aggregation = c.Aggregation
	}
	if c.ReLUAfterLastLayer != nil {
		arch.ReLUAfterLastLayer = *c.ReLUAfterLastLayer
	}
	return arch
}
