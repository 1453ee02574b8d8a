// Package config loads the run configuration from YAML or JSON files with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/ugs/core/metrics"
	"github.com/kilianp07/ugs/core/model"
	"github.com/kilianp07/ugs/core/optimizer"
	"github.com/kilianp07/ugs/core/strategy"
	"github.com/kilianp07/ugs/infra/milp"
	"github.com/kilianp07/ugs/infra/prices"
	"github.com/kilianp07/ugs/infra/runlog"
	"github.com/kilianp07/ugs/pkg/export"
)

// EnvPrefix marks environment overrides. UGS_STRATEGY__BID_FRACTION=0.7
// sets strategy.bid_fraction.
const EnvPrefix = "UGS_"

type Config struct {
	Facility   model.FacilityParameters `json:"facility"`
	Model      optimizer.Config         `json:"model"`
	Solver     milp.Config              `json:"solver"`
	Strategy   strategy.Config          `json:"strategy"`
	Prices     prices.Config            `json:"prices"`
	Output     export.Options           `json:"output"`
	RunLog     runlog.Config            `json:"run_log"`
	Metrics    metrics.Config           `json:"metrics"`
	Logging    LoggingConfig            `json:"logging"`
	Monitoring SentryConfig             `json:"monitoring"`
}

// Default returns the configuration used when no file is given: the
// reference facility and defaults for every section.
func Default() *Config {
	cfg := &Config{Facility: model.DefaultFacility()}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Model.SetDefaults()
	c.Solver.SetDefaults()
	c.Strategy.SetDefaults()
	c.Prices.SetDefaults()
	c.Output.SetDefaults()
	c.RunLog.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section. The prices section is checked separately
// by ValidatePrices because the curve location may come from the command
// line.
func (c Config) Validate() error {
	checks := []struct {
		section string
		err     error
	}{
		{"facility", c.Facility.Validate()},
		{"model", c.Model.Validate()},
		{"solver", c.Solver.Validate()},
		{"strategy", c.Strategy.Validate()},
		{"run_log", c.RunLog.Validate()},
		{"metrics", c.Metrics.Validate()},
		{"logging", c.Logging.Validate()},
		{"monitoring", c.Monitoring.Validate()},
	}
	var errs []error
	for _, ch := range checks {
		if ch.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.section, ch.err))
		}
	}
	return errors.Join(errs...)
}

// ValidatePrices checks the prices section.
func (c Config) ValidatePrices() error {
	if err := c.Prices.Validate(); err != nil {
		return fmt.Errorf("prices: %w", err)
	}
	return nil
}

// Load reads path, applies UGS_ environment overrides, defaults and
// validation. An empty path loads the defaults with overrides only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	// Optional environment overrides
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	cfg := Config{Facility: model.DefaultFacility()}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
