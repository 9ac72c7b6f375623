package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SGLangTarget describes one self-hosted backend instance the launcher
// spawns workers against.
type SGLangTarget struct {
	// Name identifies the instance in logs and SGLANG_INSTANCE_NAME.
	Name string `json:"name"`

	// BaseURL is the instance endpoint; normalized to end with /v1 before
	// it reaches a worker.
	BaseURL string `json:"base_url"`

	// Workers is how many worker processes are pinned to this instance.
	Workers int `json:"workers"`
}

// SGLangTargets is the parsed sglang_targets.json.
type SGLangTargets struct {
	Instances []SGLangTarget `json:"instances"`
}

// TotalWorkers sums the requested worker counts across instances.
func (t *SGLangTargets) TotalWorkers() int {
	total := 0
	for _, inst := range t.Instances {
		total += inst.Workers
	}
	return total
}

// LoadSGLangTargets reads and validates sglang_targets.json from configDir.
// A missing file is a configuration error: the launcher has nothing to do
// without it.
func LoadSGLangTargets(configDir string) (*SGLangTargets, error) {
	path := filepath.Join(configDir, "sglang_targets.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError("sglang_targets.json", fmt.Errorf("%w: %s", ErrConfigNotFound, path))
		}
		return nil, NewLoadError("sglang_targets.json", err)
	}

	var targets SGLangTargets
	if err := json.Unmarshal(ExpandEnv(data), &targets); err != nil {
		return nil, NewLoadError("sglang_targets.json", fmt.Errorf("%w: %v", ErrInvalidJSON, err))
	}

	if len(targets.Instances) == 0 {
		return nil, NewValidationError("target", "sglang_targets.json", "instances", ErrMissingRequiredField)
	}
	for i, inst := range targets.Instances {
		id := inst.Name
		if id == "" {
			id = fmt.Sprintf("instances[%d]", i)
		}
		if inst.Name == "" {
			return nil, NewValidationError("target", id, "name", ErrMissingRequiredField)
		}
		if inst.BaseURL == "" {
			return nil, NewValidationError("target", id, "base_url", ErrMissingRequiredField)
		}
		if inst.Workers < 1 {
			return nil, NewValidationError("target", id, "workers",
				fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, inst.Workers))
		}
	}
	return &targets, nil
}
