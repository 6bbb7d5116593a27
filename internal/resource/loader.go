// Package resource loads ResourceDefinitions from YAML files.
package resource

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/studyloop/internal/domain"
)

// ErrNotFound is returned for ids with no definition file
var ErrNotFound = domain.ErrResourceNotFound

// File is the YAML layout of one resource
type File struct {
	ID       string                        `yaml:"id"`
	Title    string                        `yaml:"title"`
	Segments map[string]domain.SegmentSpec `yaml:"segments"`
}

// Loader reads <basePath>/<id>.yaml and keeps parsed definitions in memory.
// Definitions are immutable once loaded.
type Loader struct {
	basePath string
	mu       sync.RWMutex
	loaded   map[string]*domain.ResourceDefinition
}

// NewLoader creates a new resource loader
func NewLoader(basePath string) *Loader {
	return &Loader{
		basePath: basePath,
		loaded:   make(map[string]*domain.ResourceDefinition),
	}
}

// BasePath returns the directory definitions are read from
func (l *Loader) BasePath() string {
	return l.basePath
}

// Load returns the definition of a resource
func (l *Loader) Load(id string) (*domain.ResourceDefinition, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	l.mu.RLock()
	def, ok := l.loaded[id]
	l.mu.RUnlock()
	if ok {
		return def, nil
	}

	data, err := os.ReadFile(filepath.Join(l.basePath, id+".yaml"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read resource file: %w", err)
	}

	def, err = Parse(data)
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", id, err)
	}
	if def.ID != id {
		return nil, fmt.Errorf("%w: resource file %s declares id %q", domain.ErrInvalidInput, id, def.ID)
	}

	l.mu.Lock()
	if existing, ok := l.loaded[id]; ok {
		def = existing
	} else {
		l.loaded[id] = def
	}
	l.mu.Unlock()
	return def, nil
}

// List returns the ids of all definition files, sorted
func (l *Loader) List() ([]string, error) {
	entries, err := os.ReadDir(l.basePath)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read resource dir: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".yaml" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".yaml"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Parse decodes one resource YAML document
func Parse(data []byte) (*domain.ResourceDefinition, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse resource file: %w", err)
	}

	segments := make(map[domain.SegmentID]domain.SegmentSpec, len(file.Segments))
	for name, spec := range file.Segments {
		seg, err := domain.ParseSegmentID(name)
		if err != nil {
			return nil, err
		}
		switch spec.Omission {
		case "", domain.OmitZeroSegment, domain.OmitKeepAnswered:
		default:
			return nil, fmt.Errorf("%w: segment %s has unknown omission policy %q", domain.ErrInvalidInput, name, spec.Omission)
		}
		segments[seg] = spec
	}

	def, err := domain.NewResourceDefinition(file.ID, segments)
	if err != nil {
		return nil, err
	}
	def.Title = file.Title
	return def, nil
}
