package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig    `json:"server"`
	Database DatabaseConfig  `json:"database"`
	Log      LogConfig       `json:"log"`
	Slack    SlackConfig     `json:"slack"`
	History  HistoryConfig   `json:"history"`
	Import   ImportConfig    `json:"import"`
	Jobs     types.JobConfig `json:"jobs"`
}

type ServerConfig struct {
	Port         string `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

type LogConfig struct {
	Level string `json:"level"`
}

type SlackConfig struct {
	WebhookURL  string `json:"webhook_url"`
	NotifySkips bool   `json:"notify_skips"`
}

type HistoryConfig struct {
	Retention string `json:"retention"`
	Limit     int    `json:"limit"`
}

type ImportConfig struct {
	Source string `json:"source"`
}

// Load reads the JSON config at configPath. When the file is missing the
// config comes from .env files and the environment instead. Environment
// variables that are set always win over file values.
func Load(configPath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if err := godotenv.Load(); err != nil {
			if err := godotenv.Load(".env.local"); err != nil {
				fmt.Printf("No .env or .env.local file found. Using environment variables.\n")
			}
		}
	} else if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  "15s",
			WriteTimeout: "15s",
		},
		Database: DatabaseConfig{
			Path: "data/dispatcher.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		History: HistoryConfig{
			Retention: "30m",
			Limit:     100,
		},
		Import: ImportConfig{
			Source: "data/sample-data.csv",
		},
		Jobs: types.JobConfig{
			SchedulerName:         "batch-dispatcher",
			OverwriteExisting:     true,
			WaitForJobsOnShutdown: true,
			OverlapPolicy:         "skip",
			TriggersFile:          "config/triggers.yaml",
		},
	}
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if value, ok := os.LookupEnv(key); ok && value != "" {
			*dst = value
		}
	}

	setString("PORT", &c.Server.Port)
	setString("DB_PATH", &c.Database.Path)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("SLACK_WEBHOOK_URL", &c.Slack.WebhookURL)
	setString("IMPORT_SOURCE", &c.Import.Source)
	setString("SCHEDULER_NAME", &c.Jobs.SchedulerName)
	setString("TIMEZONE", &c.Jobs.Timezone)
	setString("TRIGGERS_FILE", &c.Jobs.TriggersFile)
	setString("SHUTDOWN_TIMEOUT", &c.Jobs.ShutdownTimeout)
	setString("OVERLAP_POLICY", &c.Jobs.OverlapPolicy)

	for key, dst := range map[string]*bool{
		"OVERWRITE_EXISTING":        &c.Jobs.OverwriteExisting,
		"WAIT_FOR_JOBS_ON_SHUTDOWN": &c.Jobs.WaitForJobsOnShutdown,
	} {
		value, ok := os.LookupEnv(key)
		if !ok || value == "" {
			continue
		}
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = parsed
	}

	return nil
}

// Validate checks the duration fields so a typo fails at startup.
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"server.read_timeout":   c.Server.ReadTimeout,
		"server.write_timeout":  c.Server.WriteTimeout,
		"history.retention":     c.History.Retention,
		"jobs.shutdown_timeout": c.Jobs.ShutdownTimeout,
	} {
		if _, err := ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// ParseDuration treats an empty string as zero.
func ParseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	return time.ParseDuration(value)
}
