package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/g1ibby/llm-deploy/pkg/models"
)

// llmsFile is the on-disk shape of llms.yaml:
//
//	models:
//	  <name>:
//	    model: <identifier>
//	    priority: high | low
type llmsFile struct {
	Models map[string]modelSpec `yaml:"models"`
}

type modelSpec struct {
	Model    string `yaml:"model"`
	Priority string `yaml:"priority"`
}

// LoadDesiredModels parses and validates the declarative model config.
// Entries come back sorted by name so an identical file always yields
// an identical desired set.
func LoadDesiredModels(path string) ([]models.DesiredModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var file llmsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(file.Models) == 0 {
		return nil, fmt.Errorf("%s declares no models", path)
	}

	names := make([]string, 0, len(file.Models))
	for name := range file.Models {
		names = append(names, name)
	}
	sort.Strings(names)

	desired := make([]models.DesiredModel, 0, len(names))
	for _, name := range names {
		spec := file.Models[name]
		if spec.Model == "" {
			return nil, fmt.Errorf("model %s: missing model identifier", name)
		}
		if spec.Priority == "" {
			return nil, fmt.Errorf("model %s: missing priority", name)
		}
		priority := models.Priority(spec.Priority)
		if !priority.Valid() {
			return nil, fmt.Errorf("model %s: invalid priority %q (want high or low)", name, spec.Priority)
		}
		desired = append(desired, models.DesiredModel{
			Name:     name,
			Model:    spec.Model,
			Priority: priority,
		})
	}
	return desired, nil
}
