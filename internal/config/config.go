package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// AppName names the config directory and the default credential service.
const AppName = "sitewatch"

// Config holds all configuration for the application.
type Config struct {
	Auth    AuthConfig    `json:"auth"`
	Store   StoreConfig   `json:"store"`
	Monitor MonitorConfig `json:"monitor"`
	Notify  NotifyConfig  `json:"notify"`
	Server  ServerConfig  `json:"server"`
	Log     LogConfig     `json:"log"`
}

// AuthConfig describes the identity provider and the public client.
type AuthConfig struct {
	ClientID      string   `json:"client_id" validate:"required"`
	Tenant        string   `json:"tenant"`
	Scopes        []string `json:"scopes" validate:"min=1,dive,required"`
	IssuerURL     string   `json:"issuer_url" validate:"omitempty,url"`
	AuthURL       string   `json:"auth_url" validate:"required_with=TokenURL,omitempty,url"`
	TokenURL      string   `json:"token_url" validate:"required_with=AuthURL,omitempty,url"`
	GraphURL      string   `json:"graph_url" validate:"omitempty,url"`
	LoginTimeout  Duration `json:"login_timeout" validate:"min=1s"`
	HTTPTimeout   Duration `json:"http_timeout" validate:"min=1s"`
	RefreshMargin Duration `json:"refresh_margin" validate:"min=0s"`
	NoBrowser     bool     `json:"no_browser"`
}

// StoreConfig selects where tokens and sites are kept.
type StoreConfig struct {
	Backend       string `json:"backend" validate:"oneof=keyring sqlite memory"`
	ServiceName   string `json:"service_name" validate:"required"`
	DBPath        string `json:"db_path" validate:"required_if=Backend sqlite"`
	EncryptionKey string `json:"encryption_key" validate:"required_if=Backend sqlite,omitempty,hexadecimal,len=64"`
	SitesFile     string `json:"sites_file"`
}

// SiteConfig seeds the monitored site list.
type SiteConfig struct {
	URL           string `json:"url" validate:"required,url"`
	Authenticated bool   `json:"authenticated"`
}

// MonitorConfig controls the check rounds.
type MonitorConfig struct {
	Sites    []SiteConfig `json:"sites" validate:"dive"`
	Interval Duration     `json:"interval" validate:"min=1s"`
	Timeout  Duration     `json:"timeout" validate:"min=1s"`
	Workers  int          `json:"workers" validate:"min=1,max=64"`
	Retries  int          `json:"retries" validate:"min=0,max=10"`
	Schedule string       `json:"schedule"`
}

// TelegramConfig enables Telegram notifications when Token is set.
type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id" validate:"required_with=Token"`
}

// MailConfig enables email notifications when Host is set.
type MailConfig struct {
	Host     string   `json:"host"`
	Port     int      `json:"port" validate:"omitempty,min=1,max=65535"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from" validate:"required_with=Host,omitempty,email"`
	To       []string `json:"to" validate:"required_with=Host,dive,email"`
}

// NotifyConfig holds the notification channels. Logging is always on.
type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Mail     MailConfig     `json:"mail"`
}

// ServerConfig holds the listen addresses of the daemon.
type ServerConfig struct {
	APIAddr     string `json:"api_addr" validate:"required,hostname_port"`
	MetricsAddr string `json:"metrics_addr" validate:"omitempty,hostname_port"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `json:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" validate:"oneof=console json"`
}

// Duration is a wrapper around time.Duration that implements JSON marshaling/unmarshaling
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("invalid duration")
	}
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Dir returns the per-user configuration directory.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, AppName)
}

// DefaultPath is the config file used when none is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.json")
}

// Default returns a configuration with every default applied. ClientID is
// left empty and must come from the file or the environment.
func Default() *Config {
	return &Config{
		Auth: AuthConfig{
			Tenant:        "common",
			Scopes:        []string{"openid", "profile", "email", "offline_access", "User.Read"},
			GraphURL:      "https://graph.microsoft.com",
			LoginTimeout:  Duration{300 * time.Second},
			HTTPTimeout:   Duration{10 * time.Second},
			RefreshMargin: Duration{60 * time.Second},
		},
		Store: StoreConfig{
			Backend:     "keyring",
			ServiceName: AppName,
			DBPath:      filepath.Join(Dir(), AppName+".db"),
			SitesFile:   filepath.Join(Dir(), "sites.json"),
		},
		Monitor: MonitorConfig{
			Interval: Duration{60 * time.Second},
			Timeout:  Duration{10 * time.Second},
			Workers:  4,
			Retries:  1,
		},
		Server: ServerConfig{
			APIAddr: "127.0.0.1:8787",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from path on top of the defaults and applies
// environment overrides. An empty path reads DefaultPath if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	optional := path == ""
	if optional {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides overrides config fields with SITEWATCH_* variables.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"SITEWATCH_CLIENT_ID":      &c.Auth.ClientID,
		"SITEWATCH_TENANT":         &c.Auth.Tenant,
		"SITEWATCH_ISSUER_URL":     &c.Auth.IssuerURL,
		"SITEWATCH_AUTH_URL":       &c.Auth.AuthURL,
		"SITEWATCH_TOKEN_URL":      &c.Auth.TokenURL,
		"SITEWATCH_GRAPH_URL":      &c.Auth.GraphURL,
		"SITEWATCH_STORE_BACKEND":  &c.Store.Backend,
		"SITEWATCH_SERVICE_NAME":   &c.Store.ServiceName,
		"SITEWATCH_DB_PATH":        &c.Store.DBPath,
		"SITEWATCH_ENCRYPTION_KEY": &c.Store.EncryptionKey,
		"SITEWATCH_SITES_FILE":     &c.Store.SitesFile,
		"SITEWATCH_SCHEDULE":       &c.Monitor.Schedule,
		"SITEWATCH_TELEGRAM_TOKEN": &c.Notify.Telegram.Token,
		"SITEWATCH_MAIL_PASSWORD":  &c.Notify.Mail.Password,
		"SITEWATCH_API_ADDR":       &c.Server.APIAddr,
		"SITEWATCH_METRICS_ADDR":   &c.Server.MetricsAddr,
		"SITEWATCH_LOG_LEVEL":      &c.Log.Level,
		"SITEWATCH_LOG_FORMAT":     &c.Log.Format,
	}
	for key, field := range strs {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}

	if v := os.Getenv("SITEWATCH_SCOPES"); v != "" {
		c.Auth.Scopes = strings.Fields(v)
	}

	durations := map[string]*Duration{
		"SITEWATCH_LOGIN_TIMEOUT":    &c.Auth.LoginTimeout,
		"SITEWATCH_REFRESH_MARGIN":   &c.Auth.RefreshMargin,
		"SITEWATCH_MONITOR_INTERVAL": &c.Monitor.Interval,
		"SITEWATCH_MONITOR_TIMEOUT":  &c.Monitor.Timeout,
	}
	for key, field := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", key, err)
			}
			*field = Duration{d}
		}
	}

	if v := os.Getenv("SITEWATCH_TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing SITEWATCH_TELEGRAM_CHAT_ID: %w", err)
		}
		c.Notify.Telegram.ChatID = id
	}

	if v := os.Getenv("SITEWATCH_MONITOR_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing SITEWATCH_MONITOR_WORKERS: %w", err)
		}
		c.Monitor.Workers = n
	}

	if v := os.Getenv("SITEWATCH_NO_BROWSER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing SITEWATCH_NO_BROWSER: %w", err)
		}
		c.Auth.NoBrowser = b
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validate := validator.New()

	// Register custom validation for Duration
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if duration, ok := field.Interface().(Duration); ok {
			return duration.Duration
		}
		return nil
	}, Duration{})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}
