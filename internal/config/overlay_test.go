package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOverlay(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "eparload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestApplyOverlaySetsUnsetVariables(t *testing.T) {
	path := writeOverlay(t, "OVERLAY_ONLY: from-file\n")

	// Guarantee a clean slate even if a previous test leaked the variable.
	t.Setenv("OVERLAY_ONLY", "")
	require.NoError(t, os.Unsetenv("OVERLAY_ONLY"))

	require.NoError(t, ApplyOverlay(path))
	assert.Equal(t, "from-file", os.Getenv("OVERLAY_ONLY"))
}

func TestApplyOverlayEnvironmentWins(t *testing.T) {
	path := writeOverlay(t, "OVERLAY_PRESET: from-file\n")

	t.Setenv("OVERLAY_PRESET", "from-env")

	require.NoError(t, ApplyOverlay(path))
	assert.Equal(t, "from-env", os.Getenv("OVERLAY_PRESET"))
}

func TestApplyOverlayRejectsMalformedFile(t *testing.T) {
	path := writeOverlay(t, "nested:\n  key: value\n")
	assert.ErrorIs(t, ApplyOverlay(path), ErrInvalidOverlay)
}

func TestApplyOverlayRejectsMissingFile(t *testing.T) {
	assert.ErrorIs(t, ApplyOverlay(filepath.Join(t.TempDir(), "absent.yaml")), ErrInvalidOverlay)
}

func TestApplyOverlayFromEnv(t *testing.T) {
	t.Setenv(OverlayPathEnv, "")
	assert.NoError(t, ApplyOverlayFromEnv())

	path := writeOverlay(t, "OVERLAY_VIA_ENV: loaded\n")
	t.Setenv(OverlayPathEnv, path)
	t.Setenv("OVERLAY_VIA_ENV", "")
	require.NoError(t, os.Unsetenv("OVERLAY_VIA_ENV"))

	require.NoError(t, ApplyOverlayFromEnv())
	assert.Equal(t, "loaded", os.Getenv("OVERLAY_VIA_ENV"))
}
