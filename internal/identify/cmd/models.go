package cmd

import (
	"errors"
	"sync"

	"identify/internal/identify/config"
	"identify/internal/inference"
	"identify/internal/model"
)

var errNoModel = errors.New("no model configured: set --model, IDENTIFY_MODEL or model in identify.yaml")

var (
	modelsOnce sync.Once
	models     *inference.Cache
	modelsErr  error
)

func modelCache() (*inference.Cache, error) {
	modelsOnce.Do(func() {
		models, modelsErr = inference.NewCache(inference.DefaultCacheSize)
	})
	return models, modelsErr
}

// loadModel returns the configured weight set with the configured
// architecture overrides applied.
func loadModel(c *config.Config) (*model.Model, error) {
	if c.Model == "" {
		return nil, errNoModel
	}
	cache, err := modelCache()
	if err != nil {
		return nil, err
	}
	m, err := cache.Model(c.Model)
	if err != nil {
		return nil, err
	}
	libLogger().Debug("Model ready", "path", c.Model, "cached_models", cache.Len())
	return m.WithArchitecture(c.Architecture(m.Arch))
}

// loadDriver wraps the configured model in an inference driver.
func loadDriver(c *config.Config) (*inference.Driver, error) {
	m, err := loadModel(c)
	if err != nil {
		return nil, err
	}
	return inference.NewDriver(m,
		inference.WithThreshold(c.Threshold),
		inference.WithLogger(libLogger()),
	), nil
}
