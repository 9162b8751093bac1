package inference

import (
	"fmt"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"identify/internal/model"
)

// DefaultCacheSize bounds the number of weight sets a Cache keeps.
const DefaultCacheSize = 8

// Cache memoises loaded models by path. It is safe for concurrent use.
type Cache struct {
	models *lru.Cache[string, *model.Model]
	load   func(string) (*model.Model, error)
}

// NewCache returns a cache holding up to size models.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, *model.Model](size)
	if err != nil {
		return nil, fmt.Errorf("create model cache: %w", err)
	}
	return &Cache{models: c, load: model.Load}, nil
}

// Model returns the model at path, loading it on first use.
func (c *Cache) Model(path string) (*model.Model, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		key = path
	}
	if m, ok := c.models.Get(key); ok {
		return m, nil
	}
	m, err := c.load(path)
	if err != nil {
		return nil, err
	}
	c.models.Add(key, m)
	return m, nil
}

// Len is the number of cached models.
func (c *Cache) Len() int { return c.models.Len() }
