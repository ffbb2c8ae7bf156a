package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// OverlayPathEnv names the environment variable pointing at an optional YAML
// overlay file. When unset, no overlay is applied.
const OverlayPathEnv = "EPARLOAD_CONFIG_PATH"

// ErrInvalidOverlay is returned when the overlay file cannot be parsed.
var ErrInvalidOverlay = errors.New("invalid config overlay file")

// ApplyOverlay reads a YAML file of flat KEY: value pairs and exports each
// pair into the process environment unless the variable is already set.
// Environment variables therefore always win over file values, which keeps a
// single precedence rule across every package-level LoadConfig.
//
// A missing file is not an error when the path came from the default lookup;
// callers that pass an explicit path get ErrInvalidOverlay for unreadable or
// malformed files.
func ApplyOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidOverlay, path, err)
	}

	values := make(map[string]string)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidOverlay, path, err)
	}

	for key, value := range values {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("%w: setting %s: %w", ErrInvalidOverlay, key, err)
		}
	}

	return nil
}

// ApplyOverlayFromEnv applies the overlay named by OverlayPathEnv, if any.
func ApplyOverlayFromEnv() error {
	path := os.Getenv(OverlayPathEnv)
	if path == "" {
		return nil
	}

	return ApplyOverlay(path)
}
