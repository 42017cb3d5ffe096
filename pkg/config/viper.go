package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper creates a configured *viper.Viper: defaults from
// NewDefaultConfig(), the config.toml file (if one is found), and
// FLOWSCRIBE_* environment variables.
//
// Precedence (highest to lowest):
//  1. CLI flags (bound by the command layer)
//  2. Environment variables (FLOWSCRIBE_PROXY_LISTEN, FLOWSCRIBE_LOG_PATH, ...)
//  3. config.toml values
//  4. Defaults
//
// configDir overrides the search path; when empty, the working directory and
// ~/.flowscribe are searched.
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")

	if configDir != "" {
		v.AddConfigPath(configDir)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".flowscribe"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("FLOWSCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// LoadConfig unmarshals the resolved settings into a Config.
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// setViperDefaults registers the defaults using dotted-key notation, keeping
// defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("proxy.listen", d.Proxy.Listen)
	v.SetDefault("proxy.upstream", d.Proxy.Upstream)
	v.SetDefault("proxy.identity_header", d.Proxy.IdentityHeader)
	v.SetDefault("proxy.timeout_seconds", d.Proxy.TimeoutSeconds)
	v.SetDefault("proxy.status_interval_seconds", d.Proxy.StatusIntervalSeconds)

	v.SetDefault("log.sink", d.Log.Sink)
	v.SetDefault("log.path", d.Log.Path)

	v.SetDefault("worker.count", d.Worker.Count)
	v.SetDefault("worker.queue_size", d.Worker.QueueSize)
}
