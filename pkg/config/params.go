package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// MagicKey is the parameter name assumed for a bare value on the nbdkit
// command line ("nbdkit dittobd 1G").
const MagicKey = "size"

// ErrUnknownKey is returned by Params.Set for keys the plugin does not know.
var ErrUnknownKey = errors.New("unknown parameter")

// Help describes the parameters for nbdkit --help.
const Help = `size=<SIZE>                 (required) Export size, e.g. 10G.
store=memory|badger|bolt|s3 Block store (default memory).
block_size=<SIZE>           Block size, power of two, 4KiB to 4MiB (default 64KiB).
readonly=true|false         Refuse writes.
config=<FILE>               YAML or TOML file with any of these settings.
allowed_clients=<CIDR,...>  Only accept these client addresses.
denied_clients=<CIDR,...>   Refuse these client addresses.
metrics.listen=<ADDR>       Serve Prometheus metrics, e.g. :9090.
limits.iops=<N>             Maximum data requests per second.
limits.bandwidth=<SIZE>     Maximum bytes read and written per second.
gc.enabled=true|false       Delete stored blocks past the export end.
gc.dry_run=true|false       Only log the blocks gc.enabled would delete.
gc.batch_size=<N>           Blocks deleted per request (default 1000).
logging.level=<LEVEL>       DEBUG, INFO, WARN or ERROR.
logging.format=text|json    Log line format.
store.memory.max_size=<SIZE>
store.badger.path=<DIR>     store.badger.sync_writes=true|false
store.bolt.path=<FILE>      store.bolt.sync_writes=true|false
store.s3.bucket=<NAME>      store.s3.region=<REGION>  store.s3.endpoint=<URL>
store.s3.key_prefix=<P>     store.s3.cache_size=<SIZE>`

// scalarKeys are the top-level parameters. Their defaults also make viper
// bind the matching DITTOBD_* environment variables.
var scalarKeys = map[string]any{
	"size":             "",
	"block_size":       "",
	"readonly":         false,
	"store.type":       "",
	"logging.level":    "",
	"logging.format":   "",
	"metrics.listen":   "",
	"limits.iops":      0,
	"limits.bandwidth": "",
	"gc.enabled":       false,
	"gc.dry_run":       false,
	"gc.batch_size":    0,
}

// listKeys accumulate comma separated values across repeated parameters.
var listKeys = map[string]bool{
	"allowed_clients": true,
	"denied_clients":  true,
}

// storeSections are the prefixes of store-specific parameters.
var storeSections = []string{"store.memory.", "store.badger.", "store.bolt.", "store.s3."}

// Params collects nbdkit key=value parameters in order and turns them into
// a Config once configuration is complete.
type Params struct {
	v          *viper.Viper
	configFile string
	lists      map[string][]string
}

// NewParams returns an empty parameter set bound to the DITTOBD_*
// environment.
func NewParams() *Params {
	v := viper.New()

	// Environment variables use DITTOBD_ prefix and underscores
	// Example: DITTOBD_STORE_TYPE=badger
	v.SetEnvPrefix("DITTOBD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for k, def := range scalarKeys {
		v.SetDefault(k, def)
	}

	return &Params{v: v, lists: make(map[string][]string)}
}

// Set records one parameter. Later values of the same key replace earlier
// ones, except for client lists which accumulate.
func (p *Params) Set(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))

	switch {
	case key == "config":
		if p.configFile != "" {
			return fmt.Errorf("config: given more than once")
		}
		p.configFile = value
	case key == "store":
		p.v.Set("store.type", value)
	case listKeys[key]:
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				p.lists[key] = append(p.lists[key], item)
			}
		}
		p.v.Set(key, p.lists[key])
	case isScalarKey(key) || isStoreKey(key):
		p.v.Set(key, value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return nil
}

func isScalarKey(key string) bool {
	_, ok := scalarKeys[key]
	return ok
}

func isStoreKey(key string) bool {
	for _, prefix := range storeSections {
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			return true
		}
	}
	return false
}

// Load reads the configuration file, if any, and returns the merged,
// defaulted and validated configuration.
func (p *Params) Load() (*Config, error) {
	if p.configFile != "" {
		p.v.SetConfigFile(p.configFile)
		if err := p.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := p.v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

var sizeType = reflect.TypeOf(Size(0))

// stringToSizeHookFunc decodes human-readable sizes into Size fields.
func stringToSizeHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != sizeType {
			return data, nil
		}
		return ParseSize(data.(string))
	}
}

// decodeHook is the decode hook shared by the top-level config and the
// store sections.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		stringToSizeHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}
