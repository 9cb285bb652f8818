package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"agenda/internal/datetime"
	"agenda/internal/model"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

type ReminderConfig struct {
	// Schedule is a robfig/cron spec for the reminder scan.
	Schedule string `yaml:"schedule" json:"schedule"`
	// NowLineSeconds is how often the current-time line is pushed.
	NowLineSeconds int `yaml:"now_line_seconds" json:"now_line_seconds"`
}

type HolidaysConfig struct {
	// URL is the per-year endpoint; "{year}" is substituted.
	URL      string `yaml:"url" json:"url"`
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// RedisURL, when set, shares fetched years between instances.
	RedisURL      string `yaml:"redis_url,omitempty" json:"redis_url,omitempty"`
	RedisTTLHours int    `yaml:"redis_ttl_hours" json:"redis_ttl_hours"`
}

type DatabaseConfig struct {
	// URL is a postgres:// connection string. Empty keeps appointments in memory.
	URL      string `yaml:"url" json:"url"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
	MinConns int32  `yaml:"min_conns" json:"min_conns"`
}

type SMTPConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	From     string `yaml:"from" json:"from"`
	FromName string `yaml:"from_name" json:"from_name"`
	UseTLS   bool   `yaml:"use_tls" json:"use_tls"`
}

// Enabled reports whether reminder emails can be sent.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.From != ""
}

type AuthConfig struct {
	// JWTSecret signs API tokens. Generated on first run when empty.
	JWTSecret     string `yaml:"jwt_secret" json:"-"`
	TokenTTLHours int    `yaml:"token_ttl_hours" json:"token_ttl_hours"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for calendar days (e.g. "America/Sao_Paulo").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// Locale drives date formatting and the holiday overlay.
	Locale string `yaml:"locale" json:"locale"`

	Reminder   ReminderConfig   `yaml:"reminder" json:"reminder"`
	Holidays   HolidaysConfig   `yaml:"holidays" json:"holidays"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	SMTP       SMTPConfig       `yaml:"smtp" json:"smtp"`
	Auth       AuthConfig       `yaml:"auth" json:"auth"`
	Log        LogConfig        `yaml:"log" json:"log"`
	CORS       []string         `yaml:"cors_origins" json:"cors_origins"`
	Categories model.Categories `yaml:"categories" json:"categories"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

func defaultCategories() model.Categories {
	return model.Categories{
		"meeting":  {Icon: "users", Color: "#2563eb"},
		"visit":    {Icon: "map-pin", Color: "#16a34a"},
		"call":     {Icon: "phone", Color: "#9333ea"},
		"deadline": {Icon: "alarm-clock", Color: "#dc2626"},
		"other":    {Icon: "calendar", Color: "#6b7280"},
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:8080",
		Timezone:  "America/Sao_Paulo",
		WeekStart: "monday",
		Locale:    "pt-BR",
		Reminder: ReminderConfig{
			Schedule:       "@every 30s",
			NowLineSeconds: 60,
		},
		Holidays: HolidaysConfig{
			URL:           "https://brasilapi.com.br/api/feriados/v1/{year}",
			CacheDir:      "./var/holiday-cache",
			RedisTTLHours: 24,
		},
		Database:   DatabaseConfig{MaxConns: 25, MinConns: 5},
		SMTP:       SMTPConfig{Port: 587, UseTLS: true},
		Auth:       AuthConfig{TokenTTLHours: 12},
		Log:        LogConfig{Level: "info", Format: "console"},
		CORS:       []string{},
		Categories: defaultCategories(),
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		// Unknown value; fall back to monday to avoid surprising layouts.
		c.WeekStart = "monday"
	}
	if c.Locale == "" {
		c.Locale = d.Locale
	}
	if c.Reminder.Schedule == "" {
		c.Reminder.Schedule = d.Reminder.Schedule
	}
	if c.Reminder.NowLineSeconds <= 0 {
		c.Reminder.NowLineSeconds = d.Reminder.NowLineSeconds
	}
	if c.Holidays.URL == "" {
		c.Holidays.URL = d.Holidays.URL
	}
	if c.Holidays.RedisTTLHours <= 0 {
		c.Holidays.RedisTTLHours = d.Holidays.RedisTTLHours
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = d.Database.MaxConns
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		c.Database.MinConns = 0
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = d.SMTP.Port
	}
	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = d.Auth.TokenTTLHours
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.CORS == nil {
		c.CORS = []string{}
	}
	if c.Categories == nil {
		c.Categories = d.Categories
	}
	if _, ok := c.Categories[model.CategoryOther]; !ok {
		c.Categories[model.CategoryOther] = d.Categories[model.CategoryOther]
	}
}

// Env names read by ApplyEnv.
const (
	EnvListen      = "AGENDA_LISTEN"
	EnvDatabaseURL = "AGENDA_DATABASE_URL"
	EnvJWTSecret   = "AGENDA_JWT_SECRET"
	EnvRedisURL    = "AGENDA_REDIS_URL"
	EnvLocale      = "AGENDA_LOCALE"
	EnvLogLevel    = "AGENDA_LOG_LEVEL"
)

// ApplyEnv overrides fields from the environment. Overrides are not
// written back by Save unless the caller saves the same value.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvListen, &c.Listen)
	set(EnvDatabaseURL, &c.Database.URL)
	set(EnvJWTSecret, &c.Auth.JWTSecret)
	set(EnvRedisURL, &c.Holidays.RedisURL)
	set(EnvLocale, &c.Locale)
	set(EnvLogLevel, &c.Log.Level)
}

// GenerateSecret returns 32 random bytes hex encoded.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config with a fresh JWT secret
//     is written with 0600 perms and returned.
//   - If the file exists, it is parsed and normalized. A missing JWT secret
//     is generated and the file rewritten.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if cfg.Auth.JWTSecret, err = GenerateSecret(); err != nil {
				return nil, err
			}
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	if cfg.Auth.JWTSecret == "" {
		if cfg.Auth.JWTSecret, err = GenerateSecret(); err != nil {
			return nil, err
		}
		if err := Save(path, &cfg); err != nil {
			return &cfg, err
		}
	}
	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".agenda-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// Location resolves Timezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	return datetime.LoadLocation(c.Timezone)
}

// WeekStartDay returns the configured first day of the week.
func (c *Config) WeekStartDay() time.Weekday {
	return datetime.ParseWeekday(c.WeekStart)
}
