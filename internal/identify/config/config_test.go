package config

import (
	"os"
	"path/filepath"
	"testing"

	"identify/internal/model"
)

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identify.yaml")
	yml := "model: stock.model\nthreshold: 0.7\nmode: 64\naggregation: mean\njobs: 3\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IDENTIFY_JOBS", "5")
	t.Setenv("IDENTIFY_RELU_AFTER_LAST_LAYER", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "stock.model" || cfg.Threshold != 0.7 || cfg.Mode != 64 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Jobs != 5 {
		t.Errorf("Jobs = %d, want env override 5", cfg.Jobs)
	}
	if cfg.ReLUAfterLastLayer == nil || !*cfg.ReLUAfterLastLayer {
		t.Errorf("ReLUAfterLastLayer not set from env")
	}
	if cfg.SegmentCapacity != Default().SegmentCapacity {
		t.Errorf("SegmentCapacity = %d, want default", cfg.SegmentCapacity)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	arch := cfg.Architecture(model.DefaultArchitecture())
	if arch.Aggregation != model.AggregateMean || !arch.ReLUAfterLastLayer {
		t.Errorf("Architecture = %+v", arch)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Errorf("Load accepted a missing explicit config")
	}
}

func TestLoadBadEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("IDENTIFY_THRESHOLD", "high")
	if _, err := Load(""); err == nil {
		t.Errorf("Load accepted IDENTIFY_THRESHOLD=high")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold", func(c *Config) { c.Threshold = 1 }},
		{"mode", func(c *Config) { c.Mode = 16 }},
		{"vocab size", func(c *Config) { c.VocabSize = 2 }},
		{"segment capacity", func(c *Config) { c.SegmentCapacity = 0 }},
		{"jobs", func(c *Config) { c.Jobs = 0 }},
		{"aggregation", func(c *Config) { c.Aggregation = "max" }},
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Errorf("Validate accepted %+v", c)
			}
		})
	}
}
