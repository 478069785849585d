package adapters

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliance-gate/internal/types"
)

func TestLoadConfigFixture(t *testing.T) {
	adapter := NewConfigFileAdapter()
	cfg, err := adapter.Load("../../fixtures/compliance-gate.yaml")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, types.StoreBackendMemory, cfg.Store.Backend)
	assert.Equal(t, map[string]string{"libs-release": "maven", "npm-remote": "npm", "pypi-remote": "pypi"}, cfg.Repositories)

	// Remote: explicit values win, omitted ones keep their defaults
	assert.Equal(t, "https://compliance.example.com", cfg.Remote.URL)
	assert.Equal(t, 2, cfg.Remote.Retries)
	assert.Equal(t, 60, cfg.Remote.TimeoutSec)
	assert.Equal(t, 200, cfg.Remote.RetryDelayMs)

	assert.True(t, cfg.Inspection.Enabled)
	assert.Equal(t, 3, cfg.Inspection.RetryCount)
	assert.Equal(t, []string{"*.jar"}, cfg.Inspection.PatternsFor(types.PackageTypeMaven))
	assert.Empty(t, cfg.Inspection.PatternsFor(types.PackageTypePypi))

	assert.Equal(t, []string{"BLOCKER", "CRITICAL"}, cfg.Policy.SeverityTypes)
	assert.Equal(t, "BLOCK_OFF", cfg.ScanAsAService.BlockingStrategy)
	assert.Equal(t, []string{"libs-release/com/acme/**"}, cfg.ScanAsAService.BlockingRepos)
	assert.Equal(t, types.DefaultDateTimePattern, cfg.DateTimePattern)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 300, cfg.Server.ReconcileIntervalSec)
}

func TestLoadConfigMissingFile(t *testing.T) {
	adapter := NewConfigFileAdapter()
	_, err := adapter.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [not, a, map"), 0o644))
	_, err := NewConfigFileAdapter().Load(path)
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestLoadOrDefaultWithoutPath(t *testing.T) {
	cfg, err := NewConfigFileAdapter().LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultConfig(), cfg)
}
