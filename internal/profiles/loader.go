package profiles

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("profile not found")

type Loader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewLoader(searchPaths []string) (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Loader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load finds <name>.yaml or <name>.yml on the search paths, validates it and
// caches the result.
func (l *Loader) Load(name string) (*Profile, error) {
	// Cache-Check
	if cached, ok := l.cache.Load(name); ok {
		return cached.(*Profile), nil
	}

	var data []byte
	var foundPath string

search:
	for _, searchPath := range l.searchPaths {
		for _, ext := range []string{".yaml", ".yml"} {
			fullPath := filepath.Join(searchPath, name+ext)
			b, err := os.ReadFile(fullPath)
			if err == nil {
				data, foundPath = b, fullPath
				break search
			}
		}
	}

	if data == nil {
		return nil, fmt.Errorf("%w: %s (searched in: %v)", ErrNotFound, name, l.searchPaths)
	}

	profile, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", foundPath, err)
	}

	l.cache.Store(name, profile)

	return profile, nil
}

// Parse validates and decodes a profile document.
func (l *Loader) Parse(data []byte) (*Profile, error) {
	if err := l.validator.ValidateYAML(data); err != nil {
		return nil, err
	}

	var profile Profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	if err := profile.checkAxes(); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (l *Loader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
