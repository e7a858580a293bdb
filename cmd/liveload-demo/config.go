package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// config is the on-disk shape of a liveload-demo.yaml file. Directories
// given with --search-dir are searched after the file's search_dirs.
type config struct {
	SearchDirs []string `yaml:"search_dirs"`
	Debounce   time.Duration
}

type rawConfig struct {
	SearchDirs []string `yaml:"search_dirs"`
	DebounceMS int      `yaml:"debounce_ms"`
}

func loadConfig(path string) (config, error) {
	if path == "" {
		return config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return config{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg := config{SearchDirs: raw.SearchDirs}
	if raw.DebounceMS > 0 {
		cfg.Debounce = time.Duration(raw.DebounceMS) * time.Millisecond
	}
	return cfg, nil
}
