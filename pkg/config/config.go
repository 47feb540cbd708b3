package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"paykiosk/pkg/errors"
)

// Reader modes
const (
	ReaderAuto      = "auto"
	ReaderHardware  = "hardware"
	ReaderSimulated = "simulated"
)

// Poll interval bounds; configured values are clamped into this range
const (
	MinPollInterval = 200 * time.Millisecond
	MaxPollInterval = 500 * time.Millisecond
)

// Config holds application configuration
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Reader  ReaderConfig  `yaml:"reader"`
	Codec   CodecConfig   `yaml:"codec"`
	Session SessionConfig `yaml:"session"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
}

// GatewayConfig describes the remote payment API
type GatewayConfig struct {
	BaseURL        string        `yaml:"baseUrl"`
	APIKey         string        `yaml:"apiKey"`
	Timeout        time.Duration `yaml:"timeout"`
	LoginPerMinute int           `yaml:"loginPerMinute"`
}

// ReaderConfig selects and tunes the card reader
type ReaderConfig struct {
	Mode          string        `yaml:"mode"`
	SerialDevice  string        `yaml:"serialDevice"`
	BaudRate      int           `yaml:"baudRate"`
	PollInterval  time.Duration `yaml:"pollInterval"`
	DetectTimeout time.Duration `yaml:"detectTimeout"`
	// TapDir lets the simulated reader be driven by files named after card UIDs
	TapDir string `yaml:"tapDir"`
}

// CodecConfig selects the secret cipher and decode leniency
type CodecConfig struct {
	Cipher     string `yaml:"cipher"`     // "aes" or "xor"
	DecodeMode string `yaml:"decodeMode"` // "strict" or "permissive"
	Salt       string `yaml:"salt"`       // base64, used by the aes cipher
	Iterations int    `yaml:"iterations"`
}

// SessionConfig tunes the session controller
type SessionConfig struct {
	PIN                string        `yaml:"pin"`
	WelcomeDelay       time.Duration `yaml:"welcomeDelay"`
	ResultDisplayDelay time.Duration `yaml:"resultDisplayDelay"`
	PromptTimeout      time.Duration `yaml:"promptTimeout"`
}

// APIConfig configures the local control API used by the UI
type APIConfig struct {
	Listen    string `yaml:"listen"`
	SharedKey string `yaml:"sharedKey"`
	// RatePerSecond limits the whole control API; zero disables it
	RatePerSecond float64 `yaml:"ratePerSecond"`
	RateBurst     int     `yaml:"rateBurst"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			BaseURL:        "https://fest.eik.rs/api/",
			Timeout:        5 * time.Second,
			LoginPerMinute: 10,
		},
		Reader: ReaderConfig{
			Mode:          ReaderAuto,
			SerialDevice:  "/dev/ttyS0",
			BaudRate:      115200,
			PollInterval:  500 * time.Millisecond,
			DetectTimeout: 100 * time.Millisecond,
		},
		Codec: CodecConfig{
			Cipher:     "aes",
			DecodeMode: "strict",
			Salt:       "cGF5a2lvc2stY2FyZC1zZWNyZXQ=",
			Iterations: 10000,
		},
		Session: SessionConfig{
			PIN:                "123456",
			WelcomeDelay:       3 * time.Second,
			ResultDisplayDelay: 100 * time.Millisecond,
			PromptTimeout:      30 * time.Second,
		},
		API: APIConfig{
			Listen:        "127.0.0.1:8090",
			RatePerSecond: 20,
			RateBurst:     40,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// GetConfigFilePath returns the path where the config file should be stored
func GetConfigFilePath() string {
	currentUser, err := user.Current()
	if err != nil {
		return "./paykiosk.yaml"
	}

	// Use .config/paykiosk directory for all platforms
	return filepath.Join(currentUser.HomeDir, ".config", "paykiosk", "config.yaml")
}

// Load loads configuration from path (or the default location when path
// is empty), applies environment overrides and validates the result.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		path = GetConfigFilePath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, errors.ErrConfigLoadFailed.Clone().
				WithCause(err).
				WithContext("path", path)
		}
	case !os.IsNotExist(err):
		return nil, errors.ErrConfigLoadFailed.Clone().
			WithCause(err).
			WithContext("path", path)
	}

	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnv overrides file values with PAYKIOSK_* variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PAYKIOSK_BASE_URL"); ok {
		c.Gateway.BaseURL = v
	}
	if v, ok := lookup("PAYKIOSK_API_KEY"); ok {
		c.Gateway.APIKey = v
	}
	if v, ok := lookup("PAYKIOSK_PIN"); ok {
		c.Session.PIN = v
	}
	if v, ok := lookup("PAYKIOSK_READER"); ok {
		c.Reader.Mode = strings.ToLower(v)
	}
	if v, ok := lookup("PAYKIOSK_SERIAL_DEVICE"); ok {
		c.Reader.SerialDevice = v
	}
	if v, ok := lookup("PAYKIOSK_LISTEN"); ok {
		c.API.Listen = v
	}
	if v, ok := lookup("PAYKIOSK_KIOSK_KEY"); ok {
		c.API.SharedKey = v
	}
	if v, ok := lookup("PAYKIOSK_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup("PAYKIOSK_POLL_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(err, errors.ErrTypeConfig, "ENV_INVALID",
				"PAYKIOSK_POLL_INTERVAL is not a duration").
				WithContext("value", v)
		}
		c.Reader.PollInterval = d
	}
	if v, ok := lookup("PAYKIOSK_LOGIN_PER_MINUTE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, errors.ErrTypeConfig, "ENV_INVALID",
				"PAYKIOSK_LOGIN_PER_MINUTE is not a number").
				WithContext("value", v)
		}
		c.Gateway.LoginPerMinute = n
	}
	return nil
}

// Validate checks the configuration and clamps the poll interval
func (c *Config) Validate() error {
	invalid := func(code, msg string) error {
		return errors.New(errors.ErrTypeConfig, code, msg).
			WithUserMessage("Invalid configuration: " + msg)
	}

	if c.Gateway.BaseURL == "" {
		return invalid("BASE_URL_EMPTY", "gateway base URL is required")
	}
	if !strings.HasSuffix(c.Gateway.BaseURL, "/") {
		c.Gateway.BaseURL += "/"
	}
	if c.Gateway.Timeout <= 0 {
		return invalid("TIMEOUT_INVALID", "gateway timeout must be positive")
	}

	switch c.Reader.Mode {
	case ReaderAuto, ReaderHardware, ReaderSimulated:
	default:
		return invalid("READER_MODE_INVALID", fmt.Sprintf("unknown reader mode %q", c.Reader.Mode))
	}
	if c.Reader.PollInterval < MinPollInterval {
		c.Reader.PollInterval = MinPollInterval
	}
	if c.Reader.PollInterval > MaxPollInterval {
		c.Reader.PollInterval = MaxPollInterval
	}
	if c.Reader.DetectTimeout <= 0 || c.Reader.DetectTimeout >= c.Reader.PollInterval {
		return invalid("DETECT_TIMEOUT_INVALID", "detect timeout must be positive and shorter than the poll interval")
	}

	switch c.Codec.Cipher {
	case "aes", "xor":
	default:
		return invalid("CIPHER_INVALID", fmt.Sprintf("unknown cipher %q", c.Codec.Cipher))
	}
	switch c.Codec.DecodeMode {
	case "strict", "permissive":
	default:
		return invalid("DECODE_MODE_INVALID", fmt.Sprintf("unknown decode mode %q", c.Codec.DecodeMode))
	}

	if c.API.Listen == "" {
		return invalid("LISTEN_EMPTY", "control API listen address is required")
	}
	if c.API.RatePerSecond < 0 || (c.API.RatePerSecond > 0 && c.API.RateBurst < 1) {
		return invalid("RATE_INVALID", "control API rate needs a positive burst")
	}

	if c.Session.PIN == "" {
		return invalid("PIN_EMPTY", "session PIN is required")
	}
	if c.Session.WelcomeDelay < 0 || c.Session.ResultDisplayDelay < 0 || c.Session.PromptTimeout < 0 {
		return invalid("DELAY_INVALID", "session delays cannot be negative")
	}

	return nil
}

// Save saves the configuration to path
func (c *Config) Save(path string) error {
	if path == "" {
		path = GetConfigFilePath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.ErrConfigSaveFailed.Clone().WithCause(err).WithContext("path", path)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.ErrConfigSaveFailed.Clone().WithCause(err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.ErrConfigSaveFailed.Clone().WithCause(err).WithContext("path", path)
	}
	return nil
}
