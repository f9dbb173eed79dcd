// Package config loads service configuration from a YAML file with
// environment variable overrides declared through `env` struct tags.
// A .env file, if present, is loaded first so local development does not
// need exported variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/echoscribe/echoscribe/internal/breaker"
	"github.com/echoscribe/echoscribe/internal/cache"
	"github.com/echoscribe/echoscribe/internal/index"
	"github.com/echoscribe/echoscribe/internal/logger"
	"github.com/echoscribe/echoscribe/internal/provider"
	"github.com/echoscribe/echoscribe/internal/ratelimit"
	"github.com/echoscribe/echoscribe/internal/store"
	"github.com/echoscribe/echoscribe/internal/summary"
	"github.com/echoscribe/echoscribe/internal/transcribe"

	creds "github.com/echoscribe/echoscribe/internal/credentials"
)

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Port  int  `yaml:"port" env:"PORT"`
	Debug bool `yaml:"debug" env:"DEBUG"`
}

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig     `yaml:"server"`
	Logging logger.Config    `yaml:"logging"`
	Redis   store.Config     `yaml:"redis"`
	Cache   cache.Config     `yaml:"cache"`
	Limits  ratelimit.Config `yaml:"rate_limits"`

	Provider struct {
		provider.HTTPConfig `yaml:",inline"`
		APIKeys             []string          `yaml:"api_keys" env:"PROVIDER_API_KEYS"`
		Credentials         creds.Config      `yaml:"credentials"`
		Breaker             breaker.Config    `yaml:"breaker"`
		Job                 transcribe.Config `yaml:",inline"`
	} `yaml:"provider"`

	Summary struct {
		summary.Config `yaml:",inline"`
		APIKeys        []string       `yaml:"api_keys" env:"SUMMARY_API_KEYS"`
		Credentials    creds.Config   `yaml:"credentials"`
		Breaker        breaker.Config `yaml:"breaker"`
	} `yaml:"summary"`

	Index index.Config `yaml:"index"`
}

// Load reads the YAML file at path and applies env overrides.
func Load(path string) (*Config, error) {
	// Missing .env files are not an error.
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(reflect.ValueOf(&cfg).Elem())
	cfg.setDefaults()
	return &cfg, nil
}

// Path returns the config path from CONFIG_PATH or the default.
func Path(defaultPath string) string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return defaultPath
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

// applyEnvOverrides walks the struct and applies values from variables
// named in `env` tags. Environment always wins over the YAML file.
func applyEnvOverrides(v reflect.Value) {
	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	for i := range v.NumField() {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			applyEnvOverrides(field)
			continue
		}

		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" {
			continue
		}
		envVal := os.Getenv(envTag)
		if envVal == "" {
			continue
		}

		setFieldFromString(field, envVal)
	}
}

func setFieldFromString(field reflect.Value, val string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(val)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			if d, err := time.ParseDuration(val); err == nil {
				field.SetInt(int64(d))
			}
			return
		}
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			field.SetFloat(f)
		}

	case reflect.Bool:
		field.SetBool(parseBool(val))

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(val, ",")
			for i, p := range parts {
				parts[i] = strings.TrimSpace(p)
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
}

// parseBool returns true for "true", "1", "yes" (case-insensitive).
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}
