// Package config loads runtime settings from an optional YAML file plus
// environment variables. Env always wins over the file. Call
// LoadEnvFile(".env") first to pick up a local .env.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in Config.Provider.
const (
	ProviderCanalDigitaal = "canaldigitaal"
	ProviderKPN           = "kpn"
)

// DefaultUserAgent is the browser identity presented to the provider APIs.
// Device metadata for login registration is derived from it.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config holds provider selection, profile paths, and playback/proxy knobs.
type Config struct {
	Provider   string `yaml:"provider"`
	ProfileDir string `yaml:"profile_dir"`

	// Optional credentials. When set they seed the settings store so no
	// prompt is needed.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	SavePassword          bool   `yaml:"save_password"`
	UserAgent             string `yaml:"user_agent"`
	ProxyPort             int    `yaml:"proxy_port"`
	AskStartFromBeginning bool   `yaml:"ask_start_from_beginning"`
	RunTests              bool   `yaml:"run_tests"`

	// KPN specifics.
	KPNEmailLogin  bool `yaml:"kpn_email_login"`
	KPNEnableCache bool `yaml:"kpn_enable_cache"`

	ChannelRefreshInterval time.Duration `yaml:"channel_refresh_interval"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func defaults() *Config {
	return &Config{
		Provider:               ProviderCanalDigitaal,
		ProfileDir:             defaultProfileDir(),
		SavePassword:           true,
		UserAgent:              DefaultUserAgent,
		ProxyPort:              9478,
		KPNEnableCache:         true,
		ChannelRefreshInterval: 24 * time.Hour,
		LogLevel:               "info",
		LogFormat:              "console",
	}
}

// Load builds the config: defaults, then the YAML file at path (if any),
// then DUTIPTV_* environment overrides.
func Load(path string) (*Config, error) {
	c := defaults()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	c.applyEnv()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	c.Provider = getEnv("DUTIPTV_PROVIDER", c.Provider)
	c.ProfileDir = getEnv("DUTIPTV_PROFILE_DIR", c.ProfileDir)
	c.Username = getEnv("DUTIPTV_USERNAME", c.Username)
	c.Password = getEnv("DUTIPTV_PASSWORD", c.Password)
	c.SavePassword = getEnvBool("DUTIPTV_SAVE_PASSWORD", c.SavePassword)
	c.UserAgent = getEnv("DUTIPTV_USER_AGENT", c.UserAgent)
	c.ProxyPort = getEnvInt("DUTIPTV_PROXY_PORT", c.ProxyPort)
	c.AskStartFromBeginning = getEnvBool("DUTIPTV_ASK_START_FROM_BEGINNING", c.AskStartFromBeginning)
	c.RunTests = getEnvBool("DUTIPTV_RUN_TESTS", c.RunTests)
	c.KPNEmailLogin = getEnvBool("DUTIPTV_KPN_EMAIL_LOGIN", c.KPNEmailLogin)
	c.KPNEnableCache = getEnvBool("DUTIPTV_KPN_ENABLE_CACHE", c.KPNEnableCache)
	c.ChannelRefreshInterval = getEnvDuration("DUTIPTV_CHANNEL_REFRESH_INTERVAL", c.ChannelRefreshInterval)
	c.LogLevel = getEnv("DUTIPTV_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("DUTIPTV_LOG_FORMAT", c.LogFormat)
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Provider) {
	case ProviderCanalDigitaal, ProviderKPN:
		c.Provider = strings.ToLower(c.Provider)
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	if c.ProfileDir == "" {
		return fmt.Errorf("config: profile dir is empty")
	}
	if c.ProxyPort < 0 || c.ProxyPort > 65535 {
		return fmt.Errorf("config: proxy port %d out of range", c.ProxyPort)
	}
	if c.ChannelRefreshInterval <= 0 {
		c.ChannelRefreshInterval = 24 * time.Hour
	}
	return nil
}

// SettingsPath is the bbolt settings database inside the profile dir.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.ProfileDir, "settings.db")
}

func defaultProfileDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "dutiptv")
	}
	return "./dutiptv"
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
