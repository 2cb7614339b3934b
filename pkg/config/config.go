// Package config loads the configuration of the dittobd plugin.
//
// Values arrive as nbdkit key=value parameters (see Params), from an optional
// configuration file named by the config= parameter, and from DITTOBD_*
// environment variables. Parameters take precedence over the environment,
// which takes precedence over the file.
package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config represents the complete dittobd configuration.
//
// Store Configuration Pattern:
// Each store implementation defines its own configuration type. StoreConfig
// holds one untyped section per store type and only the section matching
// the selected type is decoded, by CreateStore.
type Config struct {
	// Size is the size of the export in bytes. Accepts human units
	// ("10G", "512MiB").
	Size Size `mapstructure:"size" yaml:"size" validate:"required"`

	// BlockSize is the unit of allocation of the block store.
	BlockSize Size `mapstructure:"block_size" yaml:"block_size"`

	// ReadOnly refuses writes on every connection.
	ReadOnly bool `mapstructure:"readonly" yaml:"readonly"`

	// Store selects and configures the block store.
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics controls the Prometheus endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Limits throttles client I/O.
	Limits LimitsConfig `mapstructure:"limits" yaml:"limits"`

	// GC controls reclaiming blocks past the end of the export.
	GC GCConfig `mapstructure:"gc" yaml:"gc"`

	// AllowedClients lists IP addresses or CIDR ranges allowed to connect.
	// Empty list means all clients are allowed.
	AllowedClients []string `mapstructure:"allowed_clients" yaml:"allowed_clients,omitempty" validate:"dive,cidr|ip"`

	// DeniedClients lists IP addresses or CIDR ranges refused.
	// Takes precedence over AllowedClients.
	DeniedClients []string `mapstructure:"denied_clients" yaml:"denied_clients,omitempty" validate:"dive,cidr|ip"`
}

// LoggingConfig controls logging behavior. Log lines always go to the
// nbdkit debug channel once the plugin is loaded.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`
}

// MetricsConfig controls metrics exposure.
type MetricsConfig struct {
	// Listen is the address of the Prometheus HTTP endpoint, e.g. ":9090".
	// Empty disables the endpoint.
	Listen string `mapstructure:"listen" yaml:"listen,omitempty"`
}

// LimitsConfig throttles the data operations of all connections together.
// Zero disables a limit.
type LimitsConfig struct {
	// IOPS is the maximum number of data requests per second.
	IOPS uint `mapstructure:"iops" yaml:"iops,omitempty"`

	// Bandwidth is the maximum number of bytes read and written per second.
	Bandwidth Size `mapstructure:"bandwidth" yaml:"bandwidth,omitempty"`
}

// GCConfig controls the garbage collection run started by GetReady.
type GCConfig struct {
	// Enabled deletes the blocks a store holds past the export size.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// DryRun only logs what would be deleted.
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run,omitempty"`

	// BatchSize is the number of blocks deleted per request (default 1000).
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size,omitempty" validate:"gte=0,lte=1000"`
}

// StoreConfig specifies block store configuration.
type StoreConfig struct {
	// Type specifies which block store implementation to use
	// Valid values: memory, badger, bolt, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger bolt s3"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory,omitempty"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`

	// Bolt contains bbolt-specific configuration
	// Only used when Type = "bolt"
	Bolt map[string]any `mapstructure:"bolt" yaml:"bolt,omitempty"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// Size is a byte count that decodes from human-readable strings.
type Size uint64

// bareSuffix matches a number followed by a lone unit letter, as nbdkit
// writes sizes ("1G", "64k").
var bareSuffix = regexp.MustCompile(`^([0-9.]+)\s*([kKmMgGtTpPeE])$`)

// ParseSize parses "1048576", "1M", "1MiB", "10 GB" and the like. A lone
// unit letter is binary, as in nbdkit: "1M" is 1MiB. Explicit SI units
// ("10 GB") stay decimal.
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(bareSuffix.ReplaceAllString(s, "${1}${2}iB"))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return Size(n), nil
}

// String renders the size in IEC units.
func (s Size) String() string {
	return humanize.IBytes(uint64(s))
}

// MarshalYAML renders sizes in IEC units.
func (s Size) MarshalYAML() (any, error) {
	return s.String(), nil
}

// secretKeys are redacted when the configuration is rendered.
var secretKeys = map[string]bool{
	"secret_access_key": true,
}

// YAML renders the effective configuration with secrets redacted.
func (c *Config) YAML() (string, error) {
	redacted := *c
	redacted.Store.S3 = redact(c.Store.S3)

	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return string(out), nil
}

func redact(section map[string]any) map[string]any {
	if section == nil {
		return nil
	}
	out := make(map[string]any, len(section))
	for k, v := range section {
		if secretKeys[k] {
			v = "<redacted>"
		}
		out[k] = v
	}
	return out
}
