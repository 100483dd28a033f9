// Package config loads pipeline configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "60s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Binwalk configures the external-process backend.
type Binwalk struct {
	// Binary is the binwalk executable name or path.
	Binary string `yaml:"binary"`

	ScanTimeout    Duration `yaml:"scan_timeout"`
	ExtractTimeout Duration `yaml:"extract_timeout"`
}

// Config is the pipeline configuration.
type Config struct {
	// InputDir holds the firmware images to analyze.
	InputDir string `yaml:"input_dir"`

	// OutputDir receives extracted/ trees and reports/ records.
	OutputDir string `yaml:"output_dir"`

	// Extension filters input files.
	Extension string `yaml:"extension"`

	// ScanOnly skips extraction and classification.
	ScanOnly bool `yaml:"scan_only"`

	// SignatureDB overrides the structured backend's signature database
	// location. Empty means the conventional per-user path.
	SignatureDB string `yaml:"signature_db"`

	// Datastore is the run-history database path.
	Datastore string `yaml:"datastore"`

	// LogFile mirrors log output to a file when set.
	LogFile string `yaml:"log_file"`

	Binwalk Binwalk `yaml:"binwalk"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		InputDir:  "database",
		OutputDir: "api_analysis_results",
		Extension: ".bin",
		Datastore: "autobinwalk.db",
		LogFile:   filepath.Join("log", "analysis.log"),
		Binwalk: Binwalk{
			Binary:         "binwalk",
			ScanTimeout:    Duration(60 * time.Second),
			ExtractTimeout: Duration(300 * time.Second),
		},
	}
}

// Load reads a YAML config file over the defaults. Unset fields keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("input_dir must not be empty")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must not be empty")
	}
	if c.Extension == "" {
		return fmt.Errorf("extension must not be empty")
	}
	if c.Binwalk.ScanTimeout < 0 || c.Binwalk.ExtractTimeout < 0 {
		return fmt.Errorf("binwalk timeouts must not be negative")
	}
	return nil
}
