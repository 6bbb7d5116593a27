package cache

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/studyloop/internal/storage/local"
)

// FileCache keeps one JSON file per key, grouped by kind
type FileCache struct {
	store *local.Store
}

// NewFileCache creates a file-backed cache rooted at basePath
func NewFileCache(basePath string) (*FileCache, error) {
	store, err := local.NewStore(basePath)
	if err != nil {
		return nil, fmt.Errorf("create local store: %w", err)
	}
	return &FileCache{store: store}, nil
}

func (c *FileCache) Get(key Key, v any) error {
	if err := c.store.Load(key.Kind, key.ID, v); err != nil {
		return mapLocalErr(err)
	}
	return nil
}

func (c *FileCache) Put(key Key, v any) error {
	return c.store.Save(key.Kind, key.ID, v)
}

func (c *FileCache) Delete(key Key) error {
	if err := c.store.Delete(key.Kind, key.ID); err != nil {
		return mapLocalErr(err)
	}
	return nil
}

func mapLocalErr(err error) error {
	switch {
	case errors.Is(err, local.ErrNotFound):
		return ErrMiss
	case errors.Is(err, local.ErrCorrupt):
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return err
}

var _ Cache = (*FileCache)(nil)
