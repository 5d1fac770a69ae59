package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultConfigName = ".ps2hdd.yaml"

// config settings read from the config file, overridden by flags
type config struct {
	Device     string `yaml:"device"`
	Partition  string `yaml:"partition"`
	VolumeName string `yaml:"volume_name"`
	ZoneSize   uint32 `yaml:"zone_size"`
	Workers    int    `yaml:"workers"`
	Verbose    bool   `yaml:"verbose"`
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultConfigName)
}

// loadConfig reads the config file at p. A missing file is only an error when explicit is set.
func loadConfig(p string, explicit bool) (*config, error) {
	cfg := &config{}
	if p == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("could not read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("could not parse config %s: %w", p, err)
	}
	return cfg, nil
}
