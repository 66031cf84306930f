package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "4000", cfg.ServerPort)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, filepath.Join("data", "exports"), cfg.ExportDir)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.SMTPHost)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, 30*time.Second, cfg.PollIntervalCharging)
	assert.False(t, cfg.SubmitAnonData)
	assert.Equal(t, 3.0, cfg.DitherAmount)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VIN", "5YJSA1E26FF000001")
	t.Setenv("DATA_DIR", "/var/lib/chargekeeper")
	t.Setenv("POLL_INTERVAL_CHARGING", "15s")
	t.Setenv("SUBMIT_ANON_DATA", "true")
	t.Setenv("DITHER_AMOUNT", "2.5")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_USERNAME", "car@example.com")
	t.Setenv("SMTP_PORT", "not-a-port")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "5YJSA1E26FF000001", cfg.VIN)
	assert.Equal(t, "/var/lib/chargekeeper", cfg.DataDir)
	assert.Equal(t, 15*time.Second, cfg.PollIntervalCharging)
	assert.True(t, cfg.SubmitAnonData)
	assert.Equal(t, 2.5, cfg.DitherAmount)
	assert.Equal(t, 587, cfg.SMTPPort, "invalid values fall back to defaults")
	assert.Equal(t, "car@example.com", cfg.SMTPFrom)
}

func TestLoadRejectsBadDitherAmount(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DITHER_AMOUNT", "12")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsNonPositivePollInterval(t *testing.T) {
	t.Chdir(t.TempDir())

	for _, value := range []string{"0s", "-5s"} {
		t.Setenv("POLL_INTERVAL_CHARGING", value)
		_, err := Load()
		assert.ErrorContains(t, err, "POLL_INTERVAL_CHARGING")
	}
}
