package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

type FeatureConfig struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	FreeDaily   int    `yaml:"free_daily"`
	Price       string `yaml:"price"`
}

type FeaturesConfig struct {
	Features []FeatureConfig `yaml:"features"`
}

// LoadFeatureConfig reads the feature price table. A relative path is
// resolved against the working directory.
func LoadFeatureConfig(featuresFile string) ([]FeatureConfig, error) {
	var featuresPath string
	if filepath.IsAbs(featuresFile) {
		featuresPath = featuresFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		featuresPath = filepath.Join(wd, featuresFile)
	}

	data, err := os.ReadFile(featuresPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", featuresFile, err)
	}

	var config FeaturesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", featuresFile, err)
	}

	seen := make(map[string]bool, len(config.Features))
	for i, feature := range config.Features {
		if feature.Name == "" {
			return nil, fmt.Errorf("feature at index %d missing name", i)
		}
		if seen[feature.Name] {
			return nil, fmt.Errorf("feature %s defined twice", feature.Name)
		}
		seen[feature.Name] = true
		if feature.FreeDaily < 0 {
			return nil, fmt.Errorf("feature %s has negative free_daily", feature.Name)
		}
		price, err := decimal.NewFromString(feature.Price)
		if err != nil {
			return nil, fmt.Errorf("feature %s has invalid price %q: %w", feature.Name, feature.Price, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("feature %s has negative price", feature.Name)
		}
	}

	return config.Features, nil
}
