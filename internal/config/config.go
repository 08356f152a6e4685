// Package config loads the survey tool configuration: a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"survey/internal/etl"
	"survey/internal/storage"
)

// Config is the full tool configuration.
type Config struct {
	// Store is the directory collected responses are written to.
	Store string `yaml:"store" env:"SURVEY_STORE"`
	// Tag names the current collection. Defaults to today's date.
	Tag string `yaml:"tag" env:"SURVEY_TAG"`
	// Output is the response store method: disk, sqlite or off.
	Output string `yaml:"output" env:"SURVEY_OUTPUT"`
	// DB is the SQLite file holding run logs and sqlite-stored responses.
	DB  string `yaml:"db" env:"SURVEY_DB"`
	Log Log    `yaml:"log"`

	Jobs []etl.Job `yaml:"jobs" env:"-"`
}

// Log configures the logger.
type Log struct {
	Level  string `yaml:"level" env:"SURVEY_LOG_LEVEL"`
	Format string `yaml:"format" env:"SURVEY_LOG_FORMAT"` // console or json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store:  "store",
		Output: storage.MethodDisk,
		DB:     "survey.db",
		Log:    Log{Level: "info", Format: "console"},
	}
}

// Load reads the YAML file at path, if any, then applies environment
// overrides and defaults. A missing file is only an error when path is set.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Tag == "" {
		cfg.Tag = time.Now().Format("2006-01-02")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the output method and every job.
func (c *Config) Validate() error {
	switch c.Output {
	case storage.MethodDisk, storage.MethodSQLite, storage.MethodOff:
	default:
		return fmt.Errorf("unknown output method %q (disk, sqlite, off)", c.Output)
	}

	var errs []error
	seen := make(map[string]bool, len(c.Jobs))
	for i := range c.Jobs {
		j := &c.Jobs[i]
		if j.Mode == "" {
			j.Mode = etl.ModeSurvey
		}
		if err := j.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[j.Name] {
			errs = append(errs, fmt.Errorf("duplicate job %q", j.Name))
		}
		seen[j.Name] = true
	}
	return errors.Join(errs...)
}
