// Package config loads taskmaster settings from an optional YAML file and
// the environment. Environment variables win over the file.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// EnvFile names the environment variable holding the YAML config path.
const EnvFile = "TASKMASTER_CONFIG"

type Storage struct {
	Driver           string `yaml:"driver"`
	ConnectionString string `yaml:"connectionString"`
	TasksTable       string `yaml:"tasksTable"`
	BoardID          string `yaml:"boardId"`
	SQLitePath       string `yaml:"sqlitePath"`
	PostgresURL      string `yaml:"postgresUrl"`
}

type Redis struct {
	ConnectionString string        `yaml:"connectionString"`
	CacheTTL         time.Duration `yaml:"cacheTtl"`
	DeduperTTL       time.Duration `yaml:"deduperTtl"`
	Channel          string        `yaml:"channel"`
}

type Model struct {
	Driver  string        `yaml:"driver"`
	Name    string        `yaml:"name"`
	APIKey  string        `yaml:"apiKey"`
	BaseURL string        `yaml:"baseUrl"`
	Timeout time.Duration `yaml:"timeout"`
}

// Store configures the HTTP client the board and assistant use to reach the
// task store. An empty URL means this server's own listen address.
type Store struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type Assistant struct {
	MaxTasks        int      `yaml:"maxTasks"`
	MaxTitleRunes   int      `yaml:"maxTitleRunes"`
	BulkLimit       int      `yaml:"bulkLimit"`
	TranscriptLimit int      `yaml:"transcriptLimit"`
	Placeholders    []string `yaml:"placeholders"`
}

type Auth struct {
	Secret   string `yaml:"secret"`
	JWKSURL  string `yaml:"jwksUrl"`
	Audience string `yaml:"audience"`
	Issuer   string `yaml:"issuer"`
}

// Enabled reports whether requests must carry a bearer token.
func (a Auth) Enabled() bool { return a.Secret != "" || a.JWKSURL != "" }

type Config struct {
	ListenAddr   string        `yaml:"listen"`
	Debug        bool          `yaml:"debug"`
	SSEKeepAlive time.Duration `yaml:"sseKeepAlive"`
	Storage      Storage       `yaml:"storage"`
	Redis        Redis         `yaml:"redis"`
	Model        Model         `yaml:"model"`
	Store        Store         `yaml:"store"`
	Assistant    Assistant     `yaml:"assistant"`
	Auth         Auth          `yaml:"auth"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		ListenAddr:   ":8080",
		SSEKeepAlive: 15 * time.Second,
		Storage: Storage{
			Driver:     "sqlite",
			TasksTable: "Tasks",
			BoardID:    "default",
			SQLitePath: "taskmaster.db",
		},
		Redis: Redis{
			CacheTTL:   time.Minute,
			DeduperTTL: 24 * time.Hour,
		},
		Model: Model{
			Driver:  "gemini",
			Timeout: 60 * time.Second,
		},
		Store: Store{Timeout: 10 * time.Second},
		Assistant: Assistant{
			MaxTasks:        200,
			MaxTitleRunes:   120,
			TranscriptLimit: 500,
		},
	}
}

// Load reads the YAML file named by TASKMASTER_CONFIG, if any, then applies
// environment overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv(EnvFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := errors.Join(cfg.applyEnv(), cfg.Validate()); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	setStr := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	setInt := func(dst *int, key string) {
		if err := envInt(key, dst); err != nil {
			errs = append(errs, err)
		}
	}
	setDur := func(dst *time.Duration, key string) {
		if err := envDur(key, dst); err != nil {
			errs = append(errs, err)
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		c.ListenAddr = ":" + v
	}
	setStr(&c.ListenAddr, "LISTEN_ADDR")
	if v := os.Getenv("DEBUG"); v != "" {
		dbg, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid DEBUG: %w", err))
		}
		c.Debug = dbg
	}
	setDur(&c.SSEKeepAlive, "SSE_KEEPALIVE")

	setStr(&c.Storage.Driver, "STORAGE_DRIVER")
	setStr(&c.Storage.ConnectionString, "STORAGE_CONNECTION_STRING")
	setStr(&c.Storage.TasksTable, "TASKS_TABLE")
	setStr(&c.Storage.BoardID, "BOARD_ID")
	setStr(&c.Storage.SQLitePath, "SQLITE_PATH")
	setStr(&c.Storage.PostgresURL, "POSTGRES_URL", "DATABASE_URL")

	setStr(&c.Redis.ConnectionString, "REDIS_CONNECTION_STRING")
	setDur(&c.Redis.CacheTTL, "CACHE_TTL")
	setDur(&c.Redis.DeduperTTL, "DEDUPER_TTL")
	setStr(&c.Redis.Channel, "CHANGE_CHANNEL")

	setStr(&c.Model.Driver, "MODEL_DRIVER")
	setStr(&c.Model.Name, "MODEL_NAME")
	setStr(&c.Model.APIKey, "MODEL_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "OPENAI_API_KEY")
	setStr(&c.Model.BaseURL, "MODEL_BASE_URL")
	setDur(&c.Model.Timeout, "MODEL_TIMEOUT")

	setStr(&c.Store.URL, "STORE_URL")
	setStr(&c.Store.Token, "STORE_TOKEN")
	setDur(&c.Store.Timeout, "STORE_TIMEOUT")

	setInt(&c.Assistant.MaxTasks, "CONTEXT_MAX_TASKS")
	setInt(&c.Assistant.MaxTitleRunes, "CONTEXT_MAX_TITLE_RUNES")
	setInt(&c.Assistant.BulkLimit, "BULK_LIMIT")
	setInt(&c.Assistant.TranscriptLimit, "TRANSCRIPT_LIMIT")
	if v := os.Getenv("PLACEHOLDER_IDS"); v != "" {
		c.Assistant.Placeholders = splitList(v)
	}

	setStr(&c.Auth.Secret, "AUTH_SHARED_SECRET")
	setStr(&c.Auth.JWKSURL, "AUTH_JWKS_URL")
	setStr(&c.Auth.Audience, "AUTH_AUDIENCE")
	setStr(&c.Auth.Issuer, "AUTH_ISSUER")

	return errors.Join(errs...)
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Storage.Driver) {
	case "table", "aztables", "azure":
		if c.Storage.ConnectionString == "" || c.Storage.TasksTable == "" {
			errs = append(errs, errors.New("missing storage config"))
		}
	case "postgres", "pg":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, errors.New("missing POSTGRES_URL"))
		}
	case "sqlite", "":
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.Redis.ConnectionString != "" {
		if _, err := ParseRedis(c.Redis.ConnectionString); err != nil {
			errs = append(errs, err)
		}
	}
	for name, v := range map[string]int{
		"CONTEXT_MAX_TASKS":       c.Assistant.MaxTasks,
		"CONTEXT_MAX_TITLE_RUNES": c.Assistant.MaxTitleRunes,
		"TRANSCRIPT_LIMIT":        c.Assistant.TranscriptLimit,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("invalid %s: must be greater than zero", name))
		}
	}
	if c.Assistant.BulkLimit < 0 {
		errs = append(errs, errors.New("invalid BULK_LIMIT: must not be negative"))
	}
	return errors.Join(errs...)
}

// ParseRedis accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=true" connection string.
func ParseRedis(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("missing redis config")
	}
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.Contains(parts[0], "://") || strings.TrimSpace(parts[0]) == "" {
		return nil, fmt.Errorf("invalid redis connection string: %w", err)
	}
	opts = &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDur(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid %s: %q", key, v)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
