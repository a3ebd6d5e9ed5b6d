// Package config loads layered predeploy settings from YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	dirName  = ".predeploy"
	fileName = "config.yaml"
)

// Config mirrors the CLI flag names. Zero values mean "not set".
type Config struct {
	Strict     *bool    `yaml:"strict,omitempty"`
	NoTSC      *bool    `yaml:"no_tsc,omitempty"`
	TSCTimeout string   `yaml:"tsc_timeout,omitempty"`
	TSCBin     string   `yaml:"tsc_bin,omitempty"`
	Workers    *int     `yaml:"workers,omitempty"`
	Color      string   `yaml:"color,omitempty"`
	Format     string   `yaml:"format,omitempty"`
	Verbose    *bool    `yaml:"verbose,omitempty"`
	Only       []string `yaml:"only,omitempty"`
	Skip       []string `yaml:"skip,omitempty"`

	// Catalog overrides are applied layer by layer onto the built-in rule catalogue.
	Catalog yaml.Node `yaml:"catalog,omitempty"`

	catalogs []yaml.Node
}

// Load reads config from layered sources:
//  1. ~/.predeploy/config.yaml (global)
//  2. <root>/.predeploy/config.yaml (repo-local, takes precedence)
//  3. explicit, when non-empty (must exist)
//
// Missing global or repo files are silently ignored.
func Load(root, explicit string) (Config, error) {
	var merged Config

	if home, _ := os.UserHomeDir(); home != "" {
		globalPath := filepath.Join(home, dirName, fileName)
		global, err := loadFile(globalPath, false)
		if err != nil {
			return Config{}, fmt.Errorf("load global config %s: %w", globalPath, err)
		}
		merged = merge(merged, global)
	}

	if root != "" {
		localPath := LocalPath(root)
		local, err := loadFile(localPath, false)
		if err != nil {
			return Config{}, fmt.Errorf("load local config %s: %w", localPath, err)
		}
		merged = merge(merged, local)
	}

	if explicit != "" {
		cfg, err := loadFile(explicit, true)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", explicit, err)
		}
		merged = merge(merged, cfg)
	}

	return merged, nil
}

// LocalPath is the repo-local config file for root.
func LocalPath(root string) string {
	return filepath.Join(root, dirName, fileName)
}

func loadFile(path string, required bool) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return Config{}, nil
		}
		return Config{}, err
	}
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return Config{}, nil
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Catalog.Kind != 0 {
		if cfg.Catalog.Kind != yaml.MappingNode {
			return Config{}, fmt.Errorf("parse %s: catalog must be a mapping", path)
		}
		cfg.catalogs = []yaml.Node{cfg.Catalog}
	}
	return cfg, nil
}

// merge applies overrides from b onto a. Non-zero fields in b win; catalog layers accumulate.
func merge(a, b Config) Config {
	if b.Strict != nil {
		a.Strict = b.Strict
	}
	if b.NoTSC != nil {
		a.NoTSC = b.NoTSC
	}
	if b.TSCTimeout != "" {
		a.TSCTimeout = b.TSCTimeout
	}
	if b.TSCBin != "" {
		a.TSCBin = b.TSCBin
	}
	if b.Workers != nil {
		a.Workers = b.Workers
	}
	if b.Color != "" {
		a.Color = b.Color
	}
	if b.Format != "" {
		a.Format = b.Format
	}
	if b.Verbose != nil {
		a.Verbose = b.Verbose
	}
	if len(b.Only) > 0 {
		a.Only = b.Only
	}
	if len(b.Skip) > 0 {
		a.Skip = b.Skip
	}
	if len(b.catalogs) > 0 {
		a.catalogs = append(append([]yaml.Node(nil), a.catalogs...), b.catalogs...)
		a.Catalog = b.Catalog
	}
	return a
}

// DecodeCatalog applies every catalog layer, oldest first, onto dst. Keys a layer does not
// mention keep the value already in dst.
func (c Config) DecodeCatalog(dst any) error {
	for i := range c.catalogs {
		if err := c.catalogs[i].Decode(dst); err != nil {
			return fmt.Errorf("decode catalog: %w", err)
		}
	}
	return nil
}

// Timeout parses tsc_timeout. ok is false when it is unset.
func (c Config) Timeout() (d time.Duration, ok bool, err error) {
	raw := strings.TrimSpace(c.TSCTimeout)
	if raw == "" {
		return 0, false, nil
	}
	d, err = time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("tsc_timeout: %w", err)
	}
	if d <= 0 {
		return 0, false, fmt.Errorf("tsc_timeout must be positive, got %s", raw)
	}
	return d, true, nil
}
