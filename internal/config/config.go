// {{{ Copyright (c) Paul R. Tagliamonte <paul@k3xec.com>, 2021
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE. }}}

// Package config loads attenctl settings from files, the environment and
// flags.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds the runtime settings of attenctl.
type Config struct {
	// Timeout bounds every instrument dial, write and read.
	Timeout time.Duration `mapstructure:"timeout"`

	// ResetOnConnect sends *RST after identifying a new connection.
	ResetOnConnect bool `mapstructure:"reset_on_connect"`

	// Listen is the address the control panel serves on.
	Listen string `mapstructure:"listen"`

	// AllowedOrigins lists the CORS origins the panel accepts. Empty
	// allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// LogLevel is a zap level name.
	LogLevel string `mapstructure:"log_level"`

	// Discover tunes network scans.
	Discover Discover `mapstructure:"discover"`
}

// Discover holds network scan settings.
type Discover struct {
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
	Workers int           `mapstructure:"workers"`
}

// SetDefaults registers the built in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("timeout", 5*time.Second)
	v.SetDefault("reset_on_connect", true)
	v.SetDefault("listen", "127.0.0.1:8421")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("log_level", "info")
	v.SetDefault("discover.port", 5025)
	v.SetDefault("discover.timeout", 500*time.Millisecond)
	v.SetDefault("discover.workers", 64)
}

// New returns a viper instance that reads attenctl.{yaml,toml,json} from
// /etc/attenctl, $HOME/.attenctl and the working directory, and
// ATTENCTL_* environment variables.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("attenctl")
	v.AddConfigPath("/etc/attenctl")
	v.AddConfigPath("$HOME/.attenctl")
	v.AddConfigPath(".")
	v.SetEnvPrefix("attenctl")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads settings into a Config. file, when set, replaces the search
// paths. A missing config file is not an error.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "config: read")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: decode")
	}
	if cfg.Timeout <= 0 {
		return Config{}, errors.Errorf("config: timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.Discover.Workers <= 0 {
		return Config{}, errors.Errorf("config: discover.workers must be positive, got %d", cfg.Discover.Workers)
	}
	return cfg, nil
}

// vim: foldmethod=marker
