package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"gopkg.in/yaml.v3"
)

const DefaultTriggersFile = "config/triggers.yaml"

// TriggerFile is the on-disk shape of the trigger definitions
type TriggerFile struct {
	Triggers []types.TriggerSpec `yaml:"triggers"`
}

func LoadTriggers(configPath string) (*TriggerFile, error) {
	if configPath == "" {
		configPath = DefaultTriggersFile
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read triggers file: %w", err)
	}

	return ParseTriggers(data)
}

func ParseTriggers(data []byte) (*TriggerFile, error) {
	var file TriggerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse triggers file: %w", err)
	}

	return &file, nil
}

func (f *TriggerFile) GetTriggerNames() []string {
	names := make([]string, len(f.Triggers))
	for i, trigger := range f.Triggers {
		names[i] = trigger.Key().String()
	}
	return names
}

func (f *TriggerFile) GetTriggersForJob(jobName string) []types.TriggerSpec {
	var triggers []types.TriggerSpec
	for _, trigger := range f.Triggers {
		if trigger.JobName == jobName {
			triggers = append(triggers, trigger)
		}
	}
	return triggers
}
