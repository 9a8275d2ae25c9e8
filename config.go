package streamcache

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Default limits applied by Open and DefaultConfig.
const (
	DefaultMaxPoolMemory     = 64 * 1024 * 1024 // 64MB
	DefaultMaxInstanceMemory = 1024 * 1024      // 1MB
	DefaultCheckInterval     = 1024             // re-sample the pool roughly once per KB
)

// envPrefix is the prefix of environment variables read by LoadConfig.
const envPrefix = "STREAMCACHE"

// ByteSize is a number of bytes. When decoded from configuration it accepts
// plain integers as well as strings such as "64MiB" or "512 kB".
type ByteSize int64

// String formats the size in IEC units.
func (s ByteSize) String() string {
	if s < 0 {
		return fmt.Sprintf("%d B", int64(s))
	}
	return humanize.IBytes(uint64(s))
}

// Config holds the construction-time settings of a Cache.
type Config struct {
	MaxPoolMemory     ByteSize `mapstructure:"max_memory_pool"`
	MaxInstanceMemory ByteSize `mapstructure:"max_memory_instance"`
	CacheDirectory    string   `mapstructure:"cache_directory"`
	ChunkSize         ByteSize `mapstructure:"chunk_size"`
	CheckInterval     ByteSize `mapstructure:"check_interval"`
	DiscardOnClose    bool     `mapstructure:"discard_on_close"`
	LogLevel          string   `mapstructure:"log_level"`
}

// DefaultConfig returns the configuration Open uses when no options are given.
func DefaultConfig() Config {
	return Config{
		MaxPoolMemory:     DefaultMaxPoolMemory,
		MaxInstanceMemory: DefaultMaxInstanceMemory,
		ChunkSize:         DefaultChunkSize,
		CheckInterval:     DefaultCheckInterval,
		LogLevel:          "info",
	}
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error

	if c.MaxPoolMemory <= 0 {
		errs = append(errs, fmt.Errorf("max_memory_pool must be positive, got %d", c.MaxPoolMemory))
	}
	if c.MaxInstanceMemory <= 0 {
		errs = append(errs, fmt.Errorf("max_memory_instance must be positive, got %d", c.MaxInstanceMemory))
	}
	if c.MaxPoolMemory > 0 && c.MaxInstanceMemory > c.MaxPoolMemory {
		errs = append(errs, fmt.Errorf("max_memory_instance (%s) exceeds max_memory_pool (%s)", c.MaxInstanceMemory, c.MaxPoolMemory))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize))
	}
	if c.CheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("check_interval must be positive, got %d", c.CheckInterval))
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("log_level: %w", err))
		}
	}

	return newValidationError(errs)
}

// LoadConfig reads configuration from path (any format viper understands)
// and from STREAMCACHE_* environment variables, on top of DefaultConfig.
// An empty path reads the environment only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(byteSizeDecodeHook())); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("max_memory_pool", int64(d.MaxPoolMemory))
	v.SetDefault("max_memory_instance", int64(d.MaxInstanceMemory))
	v.SetDefault("cache_directory", d.CacheDirectory)
	v.SetDefault("chunk_size", int64(d.ChunkSize))
	v.SetDefault("check_interval", int64(d.CheckInterval))
	v.SetDefault("discard_on_close", d.DiscardOnClose)
	v.SetDefault("log_level", d.LogLevel)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(ByteSize(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			v = strings.TrimSpace(v)
			if v == "" {
				return ByteSize(0), nil
			}
			n, err := humanize.ParseBytes(v)
			if err != nil {
				return nil, fmt.Errorf("invalid byte size %q: %w", v, err)
			}
			return ByteSize(n), nil
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case uint64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(v), nil
		case ByteSize:
			return v, nil
		default:
			return nil, errors.New("unsupported byte size type " + from.String())
		}
	}
}
