package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOCK_LEASE_TTL", "")
	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))

	require.Equal(t, "memory", cfg.StoreBackend)
	require.Equal(t, 8*time.Hour, cfg.OperatorTTL)
	require.Equal(t, 2*time.Minute, cfg.LockLeaseTTL)
	require.Equal(t, "admin", cfg.LectorDefaultPassword)
	require.Equal(t, 3, cfg.LectorMaxAttempts)
	require.True(t, cfg.EnforceReaderLock)
	require.Empty(t, cfg.Warnings)

	_, off := time.Date(2025, 3, 10, 0, 0, 0, 0, cfg.SchoolZone()).Zone()
	require.Equal(t, -6*3600, off)
}

func TestLoadOverridesAndWarnings(t *testing.T) {
	t.Setenv("LECTOR_MAX_ATTEMPTS", "five")
	t.Setenv("ENFORCE_READER_LOCK", "false")
	t.Setenv("SCHOOL_UTC_OFFSET", "5h30m")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Equal(t, 3, cfg.LectorMaxAttempts)
	require.False(t, cfg.EnforceReaderLock)
	require.Equal(t, "GMT+05:30", cfg.SchoolZone().String())
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	require.Len(t, cfg.Warnings, 1)
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("QRGATE_TEST_ONLY=from-file\nHTTP_PORT=9999\n"), 0o600))
	t.Setenv("HTTP_PORT", "7000")
	t.Cleanup(func() { os.Unsetenv("QRGATE_TEST_ONLY") })

	cfg := Load(path)
	require.Equal(t, "7000", cfg.HTTPPort)
	require.Equal(t, "from-file", os.Getenv("QRGATE_TEST_ONLY"))
}
