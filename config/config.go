// Package config loads typed configuration from the environment. A .env
// file, when present, is exported into the process environment first.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// DefaultEnvFile is loaded when no env file is given and it exists.
const DefaultEnvFile = ".env"

// Options configures loading.
type Options struct {
	// EnvFile is exported before processing. It must exist when set.
	EnvFile string
}

// MustNew is New that panics on error.
func MustNew[T any](prefix string, optFns ...func(o *Options)) *T {
	conf, err := New[T](prefix, optFns...)
	if err != nil {
		panic(err)
	}
	return conf
}

// New processes the environment into a T using envconfig struct tags.
func New[T any](prefix string, optFns ...func(o *Options)) (*T, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	if path := strings.TrimSpace(opts.EnvFile); path != "" {
		if err := exportEnvironment(path); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	} else if err := exportEnvironmentIfExists(DefaultEnvFile); err != nil {
		return nil, fmt.Errorf("failed to load default env file: %w", err)
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, err
	}

	return &conf, nil
}

func exportEnvironmentIfExists(filepath string) error {
	info, err := os.Stat(filepath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	return exportEnvironment(filepath)
}

// exportEnvironment sets variables from the file that are not already set,
// so the real environment wins over the file.
func exportEnvironment(filepath string) error {
	v := viper.New()
	v.SetConfigFile(filepath)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	for k, val := range v.AllSettings() {
		key := strings.ToUpper(k)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return err
		}
	}

	return nil
}
