package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RolePrompts maps an agent role name to its instruction text.
type RolePrompts map[string]string

// LoadRolePrompts reads a YAML mapping of role name to instruction text.
// An empty path or a missing file yields an empty (non-nil) map.
func LoadRolePrompts(path string) (RolePrompts, error) {
	prompts := RolePrompts{}
	if path == "" {
		return prompts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return prompts, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("parse role prompts %s: %w", path, err)
	}
	return prompts, nil
}
