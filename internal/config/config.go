// Package config loads CLI settings from flags, TESTBED_* environment
// variables, an optional .env file and an optional .testbed.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/picklr-io/testbed/internal/state"
	"github.com/picklr-io/testbed/pkg/engine"
	"github.com/picklr-io/testbed/pkg/resource"
)

const (
	EnvPrefix  = "TESTBED"
	configName = ".testbed"
)

// Keys are the setting names shared by the config file, the environment and
// the CLI flags.
const (
	KeyHost           = "host"
	KeyTLSCACert      = "tls_ca_cert"
	KeyTLSCert        = "tls_cert"
	KeyTLSKey         = "tls_key"
	KeyLogLevel       = "log_level"
	KeyLogFormat      = "log_format"
	KeyStateDir       = "state_dir"
	KeyStateStore     = "state_store"
	KeyStateBucket    = "state_bucket"
	KeyStateKey       = "state_key"
	KeyStateRegion    = "state_region"
	KeyStateLockTable = "state_lock_table"
	KeyStateProfile   = "state_profile"
	KeyStateEncrypt   = "state_encrypt"
	KeyStopTimeout    = "stop_timeout"
	KeyParallelism    = "parallelism"
)

type Config struct {
	Endpoint    engine.Endpoint `mapstructure:",squash"`
	LogLevel    string          `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat   string          `mapstructure:"log_format" validate:"oneof=text json"`
	StateDir    string          `mapstructure:"state_dir" validate:"required"`
	StateStore  string          `mapstructure:"state_store" validate:"oneof=file s3"`
	S3          state.S3Config  `mapstructure:",squash"`
	StopTimeout time.Duration   `mapstructure:"stop_timeout" validate:"gte=0"`
	Parallelism int             `mapstructure:"parallelism" validate:"min=1,max=64"`
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyHost, "")
	v.SetDefault(KeyTLSCACert, "")
	v.SetDefault(KeyTLSCert, "")
	v.SetDefault(KeyTLSKey, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyStateDir, defaultStateDir())
	v.SetDefault(KeyStateStore, "file")
	for _, k := range []string{KeyStateBucket, KeyStateKey, KeyStateRegion, KeyStateLockTable, KeyStateProfile} {
		v.SetDefault(k, "")
	}
	v.SetDefault(KeyStateEncrypt, false)
	v.SetDefault(KeyStopTimeout, 10*time.Second)
	v.SetDefault(KeyParallelism, 4)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "testbed")
	}
	return ".testbed"
}

// Load reads .env and the config file, then decodes and validates the
// settings. An empty file searches for .testbed.yaml in the working and home
// directories; neither has to exist.
func Load(v *viper.Viper, file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := resource.Validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
