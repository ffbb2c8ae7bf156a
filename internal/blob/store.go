// Package blob persists downloaded document bytes. Two backends: local
// filesystem and S3, selected by configuration tag through the same
// factory-map pattern the load adapter registry uses.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Store writes document bytes under a key and reports the stored object's
// location URI (file://... or s3://...).
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (location string, err error)
}

// Factory constructs a Store from its configuration.
type Factory func(config *Config) (Store, error)

// Registry errors.
var (
	ErrUnknownBackend   = errors.New("unknown storage backend")
	ErrDuplicateBackend = errors.New("storage backend already registered")
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a backend factory under a case-insensitive tag.
func Register(tag string, factory Factory) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	tag = strings.ToLower(tag)
	if _, exists := registry[tag]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateBackend, tag)
	}

	registry[tag] = factory

	return nil
}

// New constructs the Store the configuration names.
func New(config *Config) (Store, error) {
	registryMu.RLock()
	factory, ok := registry[strings.ToLower(config.Backend)]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)",
			ErrUnknownBackend, config.Backend, strings.Join(Tags(), ", "))
	}

	return factory(config)
}

// Tags returns the registered backend tags, sorted.
func Tags() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	tags := make([]string, 0, len(registry))
	for tag := range registry {
		tags = append(tags, tag)
	}

	sort.Strings(tags)

	return tags
}
