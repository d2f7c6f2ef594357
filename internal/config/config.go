// Package config loads the albaem settings from a TOML file and ALBAEM_
// environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/sirupsen/logrus"
)

// DefaultFile is read from the working directory when no file is given
const DefaultFile = "albaem.toml"

// Config describes all configuration options
type Config struct {
	Name            string        `toml:"name" env:"NAME" usage:"Controller name used for memorized attributes (defaults to host:port)"`
	Host            string        `toml:"host" env:"HOST" usage:"Electrometer host name or address"`
	Port            int           `toml:"port" env:"PORT" default:"5025" usage:"Electrometer TCP port"`
	Timeout         time.Duration `toml:"timeout" env:"TIMEOUT" default:"1s" usage:"Socket timeout"`
	Retries         int           `toml:"retries" env:"RETRIES" default:"2" usage:"Reconnection attempts per command"`
	ExtTriggerInput string        `toml:"ext_trigger_input" env:"EXT_TRIGGER_INPUT" usage:"Trigger input for hardware synchronization (DIO_1..4, DIFF_IO_1..9)"`
	MemorizeDB      string        `toml:"memorize_db" env:"MEMORIZE_DB" usage:"bbolt file keeping memorized attributes"`
	Log             struct {
		Level string `toml:"level" env:"LEVEL" default:"info"`
		JSON  bool   `toml:"json" env:"JSON" default:"false" usage:"Output JSON instead of text log lines"`
	} `toml:"log" env:"LOG"`
	GPG struct {
		Key        string `toml:"key" env:"KEY" usage:"Private key signing exported files"`
		Passphrase string `toml:"passphrase" env:"PASSPHRASE"`
	} `toml:"gpg" env:"GPG"`
}

// Loader returns a loader for cfg reading the given files
func Loader(cfg *Config, files ...string) *aconfig.Loader {
	return aconfig.LoaderFor(cfg, aconfig.Config{
		EnvPrefix: "ALBAEM",
		SkipFlags: true,
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads path, or DefaultFile when path is empty and the file exists,
// then the environment, and validates the result
func Load(path string) (*Config, error) {
	var files []string
	switch {
	case path != "":
		if _, err := os.Stat(path); err != nil {
			return nil, &models.AlbaEMError{
				Type:    models.ErrInvalidConfig,
				Command: path,
				Err:     fmt.Errorf("config file not readable: %w", err),
			}
		}
		files = []string{path}
	default:
		if _, err := os.Stat(DefaultFile); err == nil {
			files = []string{DefaultFile}
		}
	}

	cfg := &Config{}
	if err := Loader(cfg, files...).Load(); err != nil {
		return nil, &models.AlbaEMError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("failed to load config: %w", err),
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return models.NewError(models.ErrInvalidConfig, "invalid value for port: %d", cfg.Port)
	}
	if cfg.Timeout <= 0 {
		return models.NewError(models.ErrInvalidConfig, "invalid value for timeout: %s", cfg.Timeout)
	}
	if cfg.Retries < 0 {
		return models.NewError(models.ErrInvalidConfig, "invalid value for retries: %d", cfg.Retries)
	}
	if cfg.ExtTriggerInput != "" {
		if _, ok := models.TriggerInputs[cfg.ExtTriggerInput]; !ok {
			return models.NewError(models.ErrInvalidConfig, "invalid value for ext_trigger_input: %s", cfg.ExtTriggerInput)
		}
	}
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return models.NewError(models.ErrInvalidConfig, "invalid value for log.level: %s", cfg.Log.Level)
	}
	return nil
}

// LogLevel converts the .Log.Level field to a logrus.Level
func (cfg *Config) LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
