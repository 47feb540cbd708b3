package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paykiosk/pkg/errors"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "https://fest.eik.rs/api/", cfg.Gateway.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, ReaderAuto, cfg.Reader.Mode)
	assert.Equal(t, 500*time.Millisecond, cfg.Reader.PollInterval)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
gateway:
  baseUrl: http://localhost:9000/api
  apiKey: abc
reader:
  mode: simulated
  pollInterval: 300ms
  detectTimeout: 50ms
codec:
  cipher: xor
  decodeMode: permissive
session:
  pin: "9999"
  welcomeDelay: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000/api/", cfg.Gateway.BaseURL, "base URL gets a trailing slash")
	assert.Equal(t, "abc", cfg.Gateway.APIKey)
	assert.Equal(t, ReaderSimulated, cfg.Reader.Mode)
	assert.Equal(t, 300*time.Millisecond, cfg.Reader.PollInterval)
	assert.Equal(t, "xor", cfg.Codec.Cipher)
	assert.Equal(t, "9999", cfg.Session.PIN)
	assert.Equal(t, time.Second, cfg.Session.WelcomeDelay)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway: [unclosed"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConfigLoadFailed)
}

func TestEnvOverrides(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"PAYKIOSK_BASE_URL":      "http://gateway.test/",
		"PAYKIOSK_PIN":           "4321",
		"PAYKIOSK_READER":        "SIMULATED",
		"PAYKIOSK_POLL_INTERVAL": "250ms",
		"PAYKIOSK_KIOSK_KEY":     "ui-key",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	require.NoError(t, cfg.applyEnv(lookup))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://gateway.test/", cfg.Gateway.BaseURL)
	assert.Equal(t, "4321", cfg.Session.PIN)
	assert.Equal(t, ReaderSimulated, cfg.Reader.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.Reader.PollInterval)
	assert.Equal(t, "ui-key", cfg.API.SharedKey)
}

func TestEnvOverrideRejectsBadDuration(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "PAYKIOSK_POLL_INTERVAL" {
			return "soon", true
		}
		return "", false
	})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestValidateClampsPollInterval(t *testing.T) {
	cfg := Default()
	cfg.Reader.PollInterval = 50 * time.Millisecond
	cfg.Reader.DetectTimeout = 20 * time.Millisecond
	require.NoError(t, cfg.Validate())
	assert.Equal(t, MinPollInterval, cfg.Reader.PollInterval)

	cfg.Reader.PollInterval = 5 * time.Second
	require.NoError(t, cfg.Validate())
	assert.Equal(t, MaxPollInterval, cfg.Reader.PollInterval)
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	cases := map[string]func(*Config){
		"reader mode": func(c *Config) { c.Reader.Mode = "usb" },
		"cipher":      func(c *Config) { c.Codec.Cipher = "rot13" },
		"decode mode": func(c *Config) { c.Codec.DecodeMode = "lenient" },
		"empty pin":   func(c *Config) { c.Session.PIN = "" },
		"base url":    func(c *Config) { c.Gateway.BaseURL = "" },
		"listen":      func(c *Config) { c.API.Listen = "" },
		"rate burst":  func(c *Config) { c.API.RateBurst = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Gateway.APIKey = "saved-key"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "saved-key", loaded.Gateway.APIKey)
	assert.Equal(t, cfg.Session.WelcomeDelay, loaded.Session.WelcomeDelay)
}
