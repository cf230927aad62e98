package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ReadConfig layers defaults, the TOML file at path (optional) and KEEPER_*
// environment variables, validates the result and installs it as Config.
func ReadConfig(path string) (configDefinition, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig, "koanf"), nil); err != nil {
		return configDefinition{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return configDefinition{}, fmt.Errorf("load %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return configDefinition{}, fmt.Errorf("stat %s: %w", path, err)
		}
	}

	var cfg configDefinition
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return configDefinition{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return configDefinition{}, fmt.Errorf("parse env: %w", err)
	}

	if len(cfg.Session.Entities) == 0 {
		cfg.Session.Entities = defaultEntities
	}
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))

	if err := cfg.Validate(); err != nil {
		return configDefinition{}, err
	}

	Config = cfg
	return cfg, nil
}

// Validate rejects settings the persistence layer cannot run with.
func (c configDefinition) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case "memory", "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if c.Store.Backend == "mysql" && c.Store.Addr == "" {
		errs = append(errs, errors.New("store.address: required for mysql backend"))
	}
	if c.Store.Backend == "sqlite" && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path: required for sqlite backend"))
	}

	p := c.Persistence
	if p.BaseCapacity < 1 {
		errs = append(errs, errors.New("persistence.base_capacity: must be at least 1"))
	}
	if p.PerSessionCapacity < 0 {
		errs = append(errs, errors.New("persistence.per_session_capacity: must not be negative"))
	}
	if p.RegenInterval <= 0 {
		errs = append(errs, errors.New("persistence.regen_interval: must be positive"))
	}
	if p.WriteTimeout <= 0 {
		errs = append(errs, errors.New("persistence.write_timeout: must be positive"))
	}
	if p.LoadAttempts < 1 {
		errs = append(errs, errors.New("persistence.load_attempts: must be at least 1"))
	}
	if p.LoadBackoff <= 0 {
		errs = append(errs, errors.New("persistence.load_backoff: must be positive"))
	}
	if p.FlushBudget <= 0 {
		errs = append(errs, errors.New("persistence.flush_budget: must be positive"))
	}

	seen := make(map[string]bool)
	for _, e := range c.Session.Entities {
		if e.Name == "" {
			errs = append(errs, errors.New("session.entities: entity without a name"))
			continue
		}
		if strings.Contains(e.Name, "_") {
			errs = append(errs, fmt.Errorf("session.entities: %q must not contain '_'", e.Name))
		}
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("session.entities: %q declared twice", e.Name))
		}
		seen[e.Name] = true
	}

	return errors.Join(errs...)
}
