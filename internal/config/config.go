// Package config loads SNAS's server configuration from environment
// variables (and, optionally, a YAML file), validating it before the
// server wires up any backend connection.
//
// Grounded on petonlabs-go-boilerplate's internal/config: koanf for
// layered loading, go-playground/validator for struct validation, a
// single exported Config type returned fully populated or not at all.
package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from every environment variable before it is
// lowercased and matched against a koanf tag, so NATS_HOST -> nats_host.
const envPrefix = "SNAS_"

// Config is the full set of settings snasd needs to connect to NATS,
// open its credential store, and bring up whichever transports are
// enabled.
type Config struct {
	NATSHost string `koanf:"nats_host" validate:"required"`
	NATSPort int    `koanf:"nats_port" validate:"required,gt=0,lte=65535"`
	KVBucket string `koanf:"kv_bucket" validate:"required"`

	EnableAdminMessaging bool   `koanf:"enable_admin_messaging"`
	EnableUserMessaging  bool   `koanf:"enable_user_messaging"`
	AdminPrefix          string `koanf:"admin_prefix" validate:"required"`
	UserPrefix           string `koanf:"user_prefix" validate:"required"`

	EnableSocket bool   `koanf:"enable_socket"`
	SocketPath   string `koanf:"socket_path"`

	LogFormat string `koanf:"log_format" validate:"oneof=json console"`
}

// Defaults returns the baseline configuration, loaded before any file
// or environment override.
func Defaults() Config {
	return Config{
		NATSHost:             "127.0.0.1",
		NATSPort:             4222,
		KVBucket:             "snas",
		EnableAdminMessaging: true,
		EnableUserMessaging:  true,
		AdminPrefix:          "snas.admin",
		UserPrefix:           "snas.user",
		EnableSocket:         true,
		SocketPath:           "/var/run/snas.sock",
		LogFormat:            "console",
	}
}

// Load builds a Config from defaults, an optional YAML file, and
// environment variables (highest precedence), then validates it.
// configPath may be empty, in which case only defaults and
// environment variables apply.
func Load(configPath string) (Config, error) {
	k := koanf.New(".")

	defaults := Defaults()
	if err := k.Load(confmap.Provider(structToMap(defaults), "."), nil); err != nil {
		return Config{}, err
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return Config{}, err
		}
	}

	transform := func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}
	if err := k.Load(env.Provider(envPrefix, ".", transform), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"nats_host":              cfg.NATSHost,
		"nats_port":              cfg.NATSPort,
		"kv_bucket":              cfg.KVBucket,
		"enable_admin_messaging": cfg.EnableAdminMessaging,
		"enable_user_messaging":  cfg.EnableUserMessaging,
		"admin_prefix":           cfg.AdminPrefix,
		"user_prefix":            cfg.UserPrefix,
		"enable_socket":          cfg.EnableSocket,
		"socket_path":            cfg.SocketPath,
		"log_format":             cfg.LogFormat,
	}
}
