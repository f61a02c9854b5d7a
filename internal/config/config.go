package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/basket/clickgram/internal/otel"
)

// DefaultPath is where the relay looks for its config file.
const DefaultPath = "./config/config.json"

type DatabaseConfig struct {
	// Driver is one of "tsv", "sqlite", "postgres".
	Driver    string `json:"driver" yaml:"driver"`
	Path      string `json:"path" yaml:"path"`
	Delimiter string `json:"delimiter" yaml:"delimiter"`
	DSN       string `json:"dsn" yaml:"dsn"`
}

type ClickUpConfig struct {
	APIURL        string `json:"api_url" yaml:"api_url"`
	ListID        string `json:"list_id" yaml:"list_id"`
	TeamID        string `json:"team_id" yaml:"team_id"`
	CommandPrefix string `json:"command_prefix" yaml:"command_prefix"`
	// AccountField names the custom field that receives the chat username.
	AccountField  string `json:"account_field" yaml:"account_field"`
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`
}

type TelegramConfig struct {
	APIEndpoint    string `json:"api_endpoint" yaml:"api_endpoint"`
	FileEndpoint   string `json:"file_endpoint" yaml:"file_endpoint"`
	WebhookURL     string `json:"webhook_url" yaml:"webhook_url"`
	MaxConnections int    `json:"max_connections" yaml:"max_connections"`
}

type SecretsConfig struct {
	Dir  string `json:"dir" yaml:"dir"`
	File string `json:"file" yaml:"file"`
	// AgeIdentity is an age identity file used for *.age credential files.
	AgeIdentity string `json:"age_identity" yaml:"age_identity"`
}

type RateLimitConfig struct {
	Enabled           bool `json:"enabled" yaml:"enabled"`
	RequestsPerMinute int  `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int  `json:"burst_size" yaml:"burst_size"`
}

type Config struct {
	Path string `json:"-" yaml:"-"`

	Port            int    `json:"port" yaml:"port"`
	BindAddr        string `json:"bind_addr" yaml:"bind_addr"`
	LogLevel        string `json:"log_level" yaml:"log_level"`
	LogDir          string `json:"log_dir" yaml:"log_dir"`
	LogCompress     bool   `json:"log_compress" yaml:"log_compress"`
	DefaultLanguage string `json:"default_language" yaml:"default_language"`

	Database  DatabaseConfig  `json:"database" yaml:"database"`
	ClickUp   ClickUpConfig   `json:"clickup" yaml:"clickup"`
	Telegram  TelegramConfig  `json:"telegram" yaml:"telegram"`
	Secrets   SecretsConfig   `json:"secrets" yaml:"secrets"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Telemetry otel.Config     `json:"telemetry" yaml:"telemetry"`
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.Port)
}

// Fingerprint returns a stable hash of the settings that matter at runtime.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "addr=%s|log=%s|lang=%s|db=%s:%s|list=%s|prefix=%s|field=%s|tg=%s",
		c.Addr(), c.LogLevel, c.DefaultLanguage, c.Database.Driver, c.Database.Path,
		c.ClickUp.ListID, c.ClickUp.CommandPrefix, c.ClickUp.AccountField, c.Telegram.WebhookURL)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func Default() Config {
	return Config{
		Port:            8000,
		BindAddr:        "0.0.0.0",
		LogLevel:        "info",
		LogDir:          "logs",
		DefaultLanguage: "ru",
		Database: DatabaseConfig{
			Driver:    "tsv",
			Path:      "./db/database.tsv",
			Delimiter: "\t",
		},
		ClickUp: ClickUpConfig{
			APIURL:        "https://api.clickup.com/api/v2",
			CommandPrefix: "/tg",
			AccountField:  "Telegram/Signal",
		},
		Telegram: TelegramConfig{
			APIEndpoint:    "https://api.telegram.org/bot%s/%s",
			FileEndpoint:   "https://api.telegram.org/file/bot%s/%s",
			MaxConnections: 40,
		},
		Secrets: SecretsConfig{
			Dir:  "/tmp/sops/temp",
			File: "file",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 600,
			BurstSize:         60,
		},
		Telemetry: otel.Config{
			Exporter:    "none",
			ServiceName: "clickgram",
			SampleRate:  1.0,
		},
	}
}

// Load reads the config file at path. The format follows the extension:
// .yaml/.yml is YAML, .jsonc is JSON with comments, anything else is JSON.
// A missing file yields the defaults. The document is validated against the
// config schema before it is applied over the defaults.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	cfg := Default()
	cfg.Path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			applyEnvOverrides(&cfg)
			normalize(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	doc, err := toJSON(path, data)
	if err != nil {
		return cfg, err
	}
	if err := Validate(doc); err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// toJSON turns the raw file into plain JSON.
func toJSON(path string, data []byte) ([]byte, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []byte("{}"), nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
		if raw == nil {
			return []byte("{}"), nil
		}
		out, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("convert config yaml: %w", err)
		}
		return out, nil
	case ".jsonc":
		return jsonc.ToJSON(data), nil
	default:
		return data, nil
	}
}

func normalize(cfg *Config) {
	def := Default()
	if cfg.Port <= 0 {
		cfg.Port = def.Port
	}
	if strings.TrimSpace(cfg.BindAddr) == "" {
		cfg.BindAddr = def.BindAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.LogDir == "" {
		cfg.LogDir = def.LogDir
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = def.DefaultLanguage
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = def.Database.Driver
	}
	if cfg.Database.Path == "" && cfg.Database.Driver != "postgres" {
		cfg.Database.Path = def.Database.Path
	}
	if cfg.Database.Delimiter == "" {
		cfg.Database.Delimiter = def.Database.Delimiter
	}
	cfg.ClickUp.APIURL = strings.TrimRight(cfg.ClickUp.APIURL, "/")
	if cfg.ClickUp.APIURL == "" {
		cfg.ClickUp.APIURL = def.ClickUp.APIURL
	}
	if cfg.ClickUp.CommandPrefix == "" {
		cfg.ClickUp.CommandPrefix = def.ClickUp.CommandPrefix
	}
	if cfg.ClickUp.AccountField == "" {
		cfg.ClickUp.AccountField = def.ClickUp.AccountField
	}
	if cfg.Telegram.APIEndpoint == "" {
		cfg.Telegram.APIEndpoint = def.Telegram.APIEndpoint
	}
	if cfg.Telegram.FileEndpoint == "" {
		cfg.Telegram.FileEndpoint = def.Telegram.FileEndpoint
	}
	if cfg.Telegram.MaxConnections < 1 || cfg.Telegram.MaxConnections > 100 {
		cfg.Telegram.MaxConnections = def.Telegram.MaxConnections
	}
	if cfg.Secrets.Dir == "" {
		cfg.Secrets.Dir = def.Secrets.Dir
	}
	if cfg.Secrets.File == "" {
		cfg.Secrets.File = def.Secrets.File
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("CLICKGRAM_PORT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Port = v
		}
	}
	if raw := os.Getenv("CLICKGRAM_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
}
