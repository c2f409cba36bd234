package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
priority_mode: true
grace_period_seconds: 15
chains:
  - name: pool-a
    url: http://pool-a.example
    priority: 1
    enabled: true
    is_pool: true
  - name: solo-b
    url: http://solo-b.example
    priority: 2
    enabled: true
    numeric_id_to_passphrase:
      12345: "correct horse battery staple"
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_ParsesChainsAndAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.PriorityMode)
	assert.Equal(t, 15, cfg.GracePeriodSeconds)
	require.Len(t, cfg.Chains, 2)
	assert.Equal(t, 3, cfg.Chains[0].GetMiningInfoInterval, "unset interval defaults to 3s")
	assert.Equal(t, "pocarbiter", cfg.UserAgent, "default user agent applies when unset")
}

func TestLoad_MissingChainsIsAnError(t *testing.T) {
	path := writeTempConfig(t, "priority_mode: false\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_UnreadableFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestDescriptors_RoundTripsIntoChainRegistry(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	descs := cfg.Descriptors()
	require.Len(t, descs, 2)
	assert.Equal(t, "pool-a", descs[0].Name)
	assert.Equal(t, uint64(12345), func() uint64 {
		for k := range descs[1].NumericIDToPassphrase {
			return k
		}
		return 0
	}())
}
