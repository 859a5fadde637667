package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const defaultWeight = 1.0

// HarnessProfile tunes how one harness is fuzzed.
type HarnessProfile struct {
	MaxSize int      `yaml:"max_size"`
	Weight  float64  `yaml:"weight"`
	Dicts   []string `yaml:"dicts"`
}

type HarnessProfiles map[string]HarnessProfile

type harnessFile struct {
	Harnesses HarnessProfiles `yaml:"harnesses"`
}

// LoadHarnessProfiles reads the YAML profile file. An empty path or a missing
// file yields no profiles, so every harness runs with defaults.
func LoadHarnessProfiles(path string) (HarnessProfiles, error) {
	if path == "" {
		return HarnessProfiles{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return HarnessProfiles{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read harness config: %w", err)
	}

	var f harnessFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse harness config: %w", err)
	}
	if f.Harnesses == nil {
		f.Harnesses = HarnessProfiles{}
	}
	for name, p := range f.Harnesses {
		if p.MaxSize < 0 || p.Weight < 0 {
			return nil, fmt.Errorf("invalid profile for harness %s", name)
		}
	}
	return f.Harnesses, nil
}

// Get returns the profile of a harness with defaults filled in.
func (p HarnessProfiles) Get(harness string, maxInputSize int) HarnessProfile {
	profile := p[harness]
	if profile.MaxSize == 0 {
		profile.MaxSize = maxInputSize
	}
	if profile.Weight == 0 {
		profile.Weight = defaultWeight
	}
	return profile
}
