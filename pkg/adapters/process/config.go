package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProcessConfig describes one allow-listed external program.
type ProcessConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Description string            `yaml:"description" json:"description"`
}

// ConfigFile is the structure of a processes.yaml file.
type ConfigFile struct {
	Processes []ProcessConfig `yaml:"processes" json:"processes"`
}

// LoadConfig reads a process allow-list file (YAML or JSON). A missing
// file means no processes are configured, not an error.
func LoadConfig(path string) (map[string]ProcessConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ProcessConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read process config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse process config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse process config: %w", err)
		}
	}

	out := make(map[string]ProcessConfig)
	for _, p := range cfg.Processes {
		if p.Name == "" {
			continue
		}
		out[p.Name] = p
	}
	return out, nil
}
