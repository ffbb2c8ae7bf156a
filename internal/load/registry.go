package load

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Sentinel errors for adapter registration and lookup.
var (
	// ErrUnknownAdapter is returned when no factory is registered for a tag.
	ErrUnknownAdapter = errors.New("unknown adapter tag")

	// ErrDuplicateAdapter is returned when a tag is registered twice.
	ErrDuplicateAdapter = errors.New("adapter tag already registered")
)

// AdapterFactory constructs a ready-to-use Adapter. Factories load their own
// engine-specific configuration.
type AdapterFactory func() (Adapter, error)

// Registry maps configuration tags to adapter constructors. It replaces
// string-based dynamic adapter lookup with explicit compile-time wiring: main
// registers the engines it links, configuration picks one by tag.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]AdapterFactory
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]AdapterFactory)}
}

// Register binds a tag to a factory. Tags are case-insensitive.
func (r *Registry) Register(tag string, factory AdapterFactory) error {
	key := strings.ToLower(strings.TrimSpace(tag))
	if key == "" {
		return fmt.Errorf("%w: empty tag", ErrUnknownAdapter)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateAdapter, key)
	}

	r.factories[key] = factory

	return nil
}

// New constructs the adapter registered under tag. Unknown tags list the
// registered alternatives so a configuration typo is diagnosable.
func (r *Registry) New(tag string) (Adapter, error) {
	key := strings.ToLower(strings.TrimSpace(tag))

	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrUnknownAdapter, tag, strings.Join(r.Tags(), ", "))
	}

	return factory()
}

// Tags returns the registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}

	sort.Strings(tags)

	return tags
}
