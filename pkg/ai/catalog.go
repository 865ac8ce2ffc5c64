package ai

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogFile is the on-disk shape of a model-catalog overlay: a map of
// provider name to model list. Fields mirror Model's YAML tags.
type CatalogFile struct {
	Providers map[string][]*Model `yaml:"providers"`
}

// ParseCatalog decodes a YAML catalog overlay. Each model entry must carry
// id and api; provider defaults to the key it is listed under.
func ParseCatalog(data []byte) (*CatalogFile, error) {
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}
	for provider, models := range file.Providers {
		for i, m := range models {
			if m.ID == "" {
				return nil, fmt.Errorf("model catalog: provider %s entry %d has no id", provider, i)
			}
			if m.API == "" {
				return nil, fmt.Errorf("model catalog: model %s/%s has no api", provider, m.ID)
			}
			if m.Provider == "" {
				m.Provider = provider
			}
			if len(m.Input) == 0 {
				m.Input = []Modality{ModalityText}
			}
		}
	}
	return &file, nil
}

// LoadCatalog reads a YAML catalog overlay from disk and registers its
// models on top of whatever is already registered. Models for a provider
// already present in the registry are merged, replacing entries with the
// same id.
func LoadCatalog(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read model catalog: %w", err)
	}
	file, err := ParseCatalog(data)
	if err != nil {
		return err
	}
	for provider, models := range file.Providers {
		merged := map[string]*Model{}
		for _, existing := range GetModels(provider) {
			merged[existing.ID] = existing
		}
		for _, m := range models {
			merged[m.ID] = m
		}
		RegisterModels(provider, merged)
	}
	return nil
}
