package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the fully-populated value the core's wire.NewServer and the
// supporting internal/pool, internal/executor, and internal/translator
// packages are constructed from. The core itself never loads a config file;
// this assembly happens only here, in the CLI layer.
type Config struct {
	Listen struct {
		Addr string `koanf:"addr"`
	} `koanf:"listen"`

	TLS struct {
		Enabled    bool   `koanf:"enabled"`
		Cert       string `koanf:"cert"`
		Key        string `koanf:"key"`
		MinVersion string `koanf:"min_version"`
	} `koanf:"tls"`

	Backend struct {
		Kind     string `koanf:"kind"`
		Host     string `koanf:"host"`
		Port     int    `koanf:"port"`
		Ns       string `koanf:"ns"`
		User     string `koanf:"user"`
		Password string `koanf:"password"`
	} `koanf:"backend"`

	Pool struct {
		Size        int `koanf:"size"`
		MaxOverflow int `koanf:"max_overflow"`
		TimeoutS    int `koanf:"timeout_s"`
		RecycleS    int `koanf:"recycle_s"`
	} `koanf:"pool"`

	Auth struct {
		Method string `koanf:"method"`
	} `koanf:"auth"`

	Translator struct {
		SLAMs int `koanf:"sla_ms"`
	} `koanf:"translator"`

	Message struct {
		MaxBytes int `koanf:"max_bytes"`
	} `koanf:"message"`

	Copy struct {
		BatchRows  int `koanf:"batch_rows"`
		BatchBytes int `koanf:"batch_bytes"`
	} `koanf:"copy"`

	Shutdown struct {
		DrainS int `koanf:"drain_s"`
	} `koanf:"shutdown"`
}

var defaultConfig = map[string]any{
	"listen.addr":       "0.0.0.0:5432",
	"tls.enabled":       false,
	"tls.min_version":   "1.2",
	"backend.kind":      "embedded",
	"pool.size":         50,
	"pool.max_overflow": 20,
	"pool.timeout_s":    30,
	"pool.recycle_s":    3600,
	"auth.method":       "scram_sha_256",
	"translator.sla_ms": 5,
	"message.max_bytes": 256 * 1024 * 1024,
	"copy.batch_rows":   1000,
	"copy.batch_bytes":  10 * 1024 * 1024,
	"shutdown.drain_s":  30,
}

// loadConfig layers defaults, an optional YAML file, and environment
// variables (prefixed IRIS_PGWIRE_, "__" as the nesting separator) into a
// Config, the way karu-kits' config package layers confmap/file/env
// providers through a single koanf.Koanf instance.
func loadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultConfig, "."), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	envProvider := env.Provider("IRIS_PGWIRE_", ".", envKeyMap)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func envKeyMap(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "IRIS_PGWIRE_")), "__", ".")
}

func (c *Config) poolTimeout() time.Duration {
	return time.Duration(c.Pool.TimeoutS) * time.Second
}

func (c *Config) poolRecycle() time.Duration {
	return time.Duration(c.Pool.RecycleS) * time.Second
}

func (c *Config) shutdownDrain() time.Duration {
	return time.Duration(c.Shutdown.DrainS) * time.Second
}

func (c *Config) translatorSLA() time.Duration {
	return time.Duration(c.Translator.SLAMs) * time.Millisecond
}
