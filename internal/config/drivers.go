package config

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// SQLConfig is the [storage.drivers.sqlite] table
type SQLConfig struct {
	DSN   string `mapstructure:"dsn"`
	Debug bool   `mapstructure:"debug"`
}

// ApplyDefaults fills unset fields
func (c *SQLConfig) ApplyDefaults() {
	if c.DSN == "" {
		c.DSN = ":memory:"
	}
}

// ValkeyConfig is the [storage.drivers.valkey] table
type ValkeyConfig struct {
	Address      string `mapstructure:"address"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	KeyPrefix    string `mapstructure:"key_prefix"`
	TLS          bool   `mapstructure:"tls"`
	DisableCache bool   `mapstructure:"disable_cache"`

	// EncryptionKey is a base64 AES-256 key for token and secret fields at rest
	EncryptionKey string `mapstructure:"encryption_key"`
}

// ApplyDefaults fills unset fields
func (c *ValkeyConfig) ApplyDefaults() {
	if c.Address == "" {
		c.Address = "localhost:6379"
	}
}

type setter interface {
	ApplyDefaults()
}

// SQL decodes the sqlite driver table
func (c *Config) SQL(logger *slog.Logger) (*SQLConfig, error) {
	var sc SQLConfig
	if err := c.decodeDriver(DriverSQLite, &sc, logger); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Valkey decodes the valkey driver table
func (c *Config) Valkey(logger *slog.Logger) (*ValkeyConfig, error) {
	var vc ValkeyConfig
	if err := c.decodeDriver(DriverValkey, &vc, logger); err != nil {
		return nil, err
	}
	return &vc, nil
}

func (c *Config) decodeDriver(name string, out setter, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	unused, err := decodeWithUnused(c.Storage.Drivers[name], out)
	if err != nil {
		return fmt.Errorf("invalid storage driver %q config: %w", name, err)
	}
	if len(unused) > 0 {
		logger.Warn("storage driver config contains unused keys", "driver", name, "keys", unused)
	}
	return nil
}

// decodeWithUnused decodes input into out and returns the unused keys, sorted
func decodeWithUnused(input map[string]any, out setter) ([]string, error) {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         &md,
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(input); err != nil {
		return nil, err
	}

	out.ApplyDefaults()

	unused := md.Unused
	sort.Strings(unused)
	return unused, nil
}
