package daemonconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingAPIKeyFails(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_DefaultsAppliedWhenUnset(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("MIMESIS_PORT", "")
	t.Setenv("PORT", "")
	t.Setenv("API_PORT", "")
	t.Setenv("PTY_WS_PORT", "")
	t.Setenv("STREAM_HOST", "")
	t.Setenv("MAX_AGE_HOURS", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4450, cfg.StreamPort)
	assert.Equal(t, 4451, cfg.APIPort)
	assert.Equal(t, 4452, cfg.PTYWSPort)
	assert.Equal(t, "127.0.0.1", cfg.StreamHost)
	assert.Equal(t, 24, cfg.MaxAgeHours)
	assert.Equal(t, 200, cfg.Tuning.WatchDebounceMS)
}

func TestLoad_PortEnvVarOverridesDefault(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("MIMESIS_PORT", "")
	t.Setenv("PORT", "9999")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.StreamPort)
}

func TestLoad_MimesisPortTakesPrecedenceOverPort(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("PORT", "9999")
	t.Setenv("MIMESIS_PORT", "1234")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.StreamPort)
}

func TestLoad_TuningFileOverridesDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	path := filepath.Join(t.TempDir(), "tuning.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{
		watchDebounceMs: 500
		ringCapBytes: 1048576
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Tuning.WatchDebounceMS)
	assert.Equal(t, 1048576, cfg.Tuning.RingCapBytes)
	// Untouched tuning keys keep their defaults.
	assert.Equal(t, 30*60*1000, cfg.Tuning.PTYIdleTimeoutMS)
}

func TestLoad_MissingTuningFileIsNotAnError(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.hjson"))
	require.NoError(t, err)
	assert.Equal(t, defaultTuning(), cfg.Tuning)
}
