package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlagsCallsignRequired(t *testing.T) {
	_, err := ParseFlags(Default(), "meshttpd", nil)
	assert.Error(t, err)
}

func TestParseFlagsOverridesDefaults(t *testing.T) {
	cfg, err := ParseFlags(Default(), "meshttpd", []string{
		"--callsign", "N0CALL",
		"--radio", "10.0.0.1:9000",
		"--retries", "7",
	})
	require.NoError(t, err)
	assert.Equal(t, "N0CALL", cfg.Callsign)
	assert.Equal(t, "10.0.0.1:9000", cfg.RadioAddr)
	assert.Equal(t, 7, cfg.RetryCount)
	assert.Equal(t, Default().ListenAddr, cfg.ListenAddr) // untouched flags keep their default
}

func TestParseFlagsLoadsFileThenLayersCLI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("callsign: FILECALL\nradio_addr: file:1234\n"), 0644))

	cfg, err := ParseFlags(Default(), "meshttpd", []string{
		"--config", path,
		"--radio", "cli:5678", // CLI flag wins over the file's value
	})
	require.NoError(t, err)
	assert.Equal(t, "FILECALL", cfg.Callsign)
	assert.Equal(t, "cli:5678", cfg.RadioAddr)
}

func TestLoadFileMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileRejectsUnreadablePath(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
