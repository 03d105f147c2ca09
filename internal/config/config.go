// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package config loads polyimport.yaml, the importer's configuration
// file: Polygon API credentials, the media and pandoc locations, the
// compiler/language tables, and the embedded record store's data
// directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PolygonConfig holds the credentials and retry tuning for pkg/polygonapi.
type PolygonConfig struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	MaxRetries int    `yaml:"max_retries"`
}

// StatementConfig holds the settings pkg/statement needs to find and
// invoke pandoc and to serve ingested media.
type StatementConfig struct {
	PandocPath      string `yaml:"pandoc_path"`
	MediaURL        string `yaml:"media_url"`
	MediaRoot       string `yaml:"media_root"`
	DefaultLanguage string `yaml:"default_language"`
}

// StoreConfig holds pkg/store's embedded-database settings.
type StoreConfig struct {
	DataDir string `yaml:"data_dir"`
	Engine  string `yaml:"engine"`
}

// Config is the top-level polyimport.yaml shape.
type Config struct {
	Polygon             PolygonConfig   `yaml:"polygon"`
	Statement           StatementConfig `yaml:"statement"`
	Store               StoreConfig     `yaml:"store"`
	MemoryLimitKBRange  [2]int          `yaml:"memory_limit_kb_range"`
	SupportedCompilers  []string        `yaml:"supported_compilers"`
	LanguageTable       map[string]string `yaml:"language_table,omitempty"`
}

// DefaultLanguageTable is the Polygon language name to site locale code
// mapping. Instances may extend or override it via Config.LanguageTable.
func DefaultLanguageTable() map[string]string {
	return map[string]string{
		"catalan":    "ca",
		"german":     "de",
		"greek":      "el",
		"english":    "en",
		"spanish":    "es",
		"french":     "fr",
		"croatian":   "hr",
		"hungarian":  "hu",
		"japanese":   "ja",
		"kazakh":     "kk",
		"korean":     "ko",
		"portuguese": "pt",
		"romanian":   "ro",
		"russian":    "ru",
		"serbian":    "sr-latn",
		"turkish":    "tr",
		"vietnamese": "vi",
		"chinese":    "zh-hans",
	}
}

// DefaultSupportedCompilers is the compiler table consulted by the
// main-solution re-judge check when the host does not supply its own
// registered-languages list.
func DefaultSupportedCompilers() []string {
	return []string{"cpp.g++17", "cpp.g++20", "java", "python3", "pypy3"}
}

// Default returns a Config with conservative defaults; Load overlays
// the values read from polyimport.yaml on top of it.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Polygon: PolygonConfig{MaxRetries: 3},
		Statement: StatementConfig{
			PandocPath:      "pandoc",
			DefaultLanguage: "en",
		},
		Store: StoreConfig{
			DataDir: filepath.Join(home, ".polyimport", "data"),
			Engine:  "sqlite",
		},
		MemoryLimitKBRange: [2]int{4096, 1048576},
		SupportedCompilers: DefaultSupportedCompilers(),
		LanguageTable:      DefaultLanguageTable(),
	}
}

// Load reads and parses the YAML file at path, overlaying it on Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.LanguageTable) == 0 {
		cfg.LanguageTable = DefaultLanguageTable()
	}
	if len(cfg.SupportedCompilers) == 0 {
		cfg.SupportedCompilers = DefaultSupportedCompilers()
	}
	return cfg, nil
}

// Save writes cfg as YAML to path, creating parent directories as needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// TranslateLanguage maps a Polygon language name to the site's locale
// code via cfg's table, returning the input unchanged (with ok=false) if
// the language is unrecognized. Unknown languages are retained as-is
// per spec — callers must not infer intent beyond that.
func (c *Config) TranslateLanguage(polygonLanguage string) (code string, ok bool) {
	code, ok = c.LanguageTable[polygonLanguage]
	if !ok {
		return polygonLanguage, false
	}
	return code, true
}
