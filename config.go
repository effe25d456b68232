package main

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	impacts "blitz-proxy/internal/impacts/domain"
)

const (
	backendPostgres = "postgres"
	backendMemory   = "memory"
)

type config struct {
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     int    `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDatabase string `yaml:"postgres_database"`
	DatabaseURL      string `yaml:"database_url"`
	MaxOpenConns     int    `yaml:"db_max_open_conns"`

	Debug    bool   `yaml:"debug"`
	HTTPAddr string `yaml:"http_addr"`
	DocsURL  string `yaml:"docs_url"`

	StoreBackend  string `yaml:"store_backend"`
	StoreEncoding string `yaml:"store_encoding"`
	ImpactsTable  string `yaml:"impacts_table"`
	MemorySeed    string `yaml:"memory_seed"`
}

// loadConfig reads the environment, then the optional YAML overlay at path
// (BLITZ_CONFIG when path is empty).
func loadConfig(path string) (config, error) {
	cfg := config{
		PostgresHost:     getenvDefault("POSTGRES_HOST", "localhost"),
		PostgresPort:     getenvIntDefault("POSTGRES_PORT", 5432),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDatabase: os.Getenv("POSTGRES_DATABASE"),
		DatabaseURL:      getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		MaxOpenConns:     getenvIntDefault("DB_MAX_OPEN_CONNS", 10),
		Debug:            getenvBool("DEBUG", false),
		HTTPAddr:         getenvDefault("HTTP_ADDR", ":8080"),
		DocsURL:          os.Getenv("DOCS_URL"),
		StoreBackend:     getenvDefault("STORE_BACKEND", backendPostgres),
		StoreEncoding:    getenvDefault("STORE_ENCODING", string(impacts.EncodingLegacy)),
		ImpactsTable:     getenvDefault("IMPACTS_TABLE", "impacts"),
		MemorySeed:       os.Getenv("MEMORY_SEED"),
	}

	if path == "" {
		path = os.Getenv("BLITZ_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}

	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if cfg.StoreBackend != backendPostgres && cfg.StoreBackend != backendMemory {
		return cfg, fmt.Errorf("config: unknown store backend %q", cfg.StoreBackend)
	}
	if _, err := impacts.ParseEncoding(cfg.StoreEncoding); err != nil {
		return cfg, err
	}
	if cfg.MaxOpenConns <= 0 {
		return cfg, errors.New("config: db_max_open_conns must be positive")
	}
	if cfg.StoreBackend == backendPostgres && cfg.DatabaseURL == "" {
		if cfg.PostgresUser == "" || cfg.PostgresDatabase == "" {
			return cfg, errors.New("config: DATABASE_URL or POSTGRES_USER and POSTGRES_DATABASE are required")
		}
	}
	return cfg, nil
}

func (c config) encoding() impacts.Encoding {
	encoding, _ := impacts.ParseEncoding(c.StoreEncoding)
	return encoding
}

// dsn returns DATABASE_URL when set, otherwise a postgres URL built from the parts.
func (c config) dsn() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.PostgresHost, strconv.Itoa(c.PostgresPort)),
		Path:   "/" + c.PostgresDatabase,
	}
	if c.PostgresPassword != "" {
		u.User = url.UserPassword(c.PostgresUser, c.PostgresPassword)
	} else {
		u.User = url.User(c.PostgresUser)
	}
	return u.String()
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
