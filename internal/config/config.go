// Package config provides centralized configuration management using Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Supported model providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config holds all configuration values for taskr.
type Config struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	Model    string `mapstructure:"model" yaml:"model"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url,omitempty"`

	Workspace string `mapstructure:"workspace" yaml:"workspace"`
	DataDir   string `mapstructure:"data_dir" yaml:"data_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFile   string `mapstructure:"log_file" yaml:"log_file"`
	Template  string `mapstructure:"template" yaml:"template"`

	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`
	MaxTokens     int `mapstructure:"max_tokens" yaml:"max_tokens"`

	MaxFileSize       int64 `mapstructure:"max_file_size" yaml:"max_file_size"`
	MaxWriteSize      int64 `mapstructure:"max_write_size" yaml:"max_write_size"`
	MaxOutputSize     int   `mapstructure:"max_output_size" yaml:"max_output_size"`
	CommandTimeout    int   `mapstructure:"command_timeout" yaml:"command_timeout"` // seconds
	MaxDeleteFiles    int   `mapstructure:"max_delete_files" yaml:"max_delete_files"`
	MaxSearchResults  int   `mapstructure:"max_search_results" yaml:"max_search_results"`
	MaxSearchFiles    int   `mapstructure:"max_search_files" yaml:"max_search_files"`
	MaxMatchesPerFile int   `mapstructure:"max_matches_per_file" yaml:"max_matches_per_file"`

	InputCostPerMTok  float64 `mapstructure:"input_cost_per_mtok" yaml:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `mapstructure:"output_cost_per_mtok" yaml:"output_cost_per_mtok"`

	MaxRetries       int `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RequestTimeout   int `mapstructure:"request_timeout" yaml:"request_timeout"` // seconds

	ExtraAllowedCommands []string `mapstructure:"extra_allowed_commands" yaml:"extra_allowed_commands,omitempty"`
}

// defaults are applied to viper before any file or env var is read.
var defaults = map[string]any{
	"provider":               ProviderAnthropic,
	"model":                  "",
	"api_key":                "",
	"base_url":               "",
	"workspace":              "workspace",
	"data_dir":               ".taskr",
	"log_level":              "info",
	"log_file":               "",
	"template":               "",
	"max_iterations":         25,
	"max_tokens":             4096,
	"max_file_size":          1 << 20,
	"max_write_size":         5 << 20,
	"max_output_size":        100 << 10,
	"command_timeout":        120,
	"max_delete_files":       1000,
	"max_search_results":     100,
	"max_search_files":       500,
	"max_matches_per_file":   10,
	"input_cost_per_mtok":    3.0,
	"output_cost_per_mtok":   15.0,
	"max_retries":            3,
	"retry_base_delay_ms":    1000,
	"request_timeout":        300,
	"extra_allowed_commands": []string{},
}

// envAliases lists extra environment variables accepted for a key, after TASKR_<KEY>.
var envAliases = map[string][]string{
	"api_key": {"ANTHROPIC_API_KEY", "GEMINI_API_KEY"},
}

// Load loads configuration with full precedence:
// CLI flags > ENV vars > project config > XDG global config > defaults
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("taskr")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Setup ENV binding with TASKR_ prefix
	v.SetEnvPrefix("TASKR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Explicit ENV bindings for better bool/int parsing
	for key := range defaults {
		envs := append([]string{"TASKR_" + strings.ToUpper(key)}, envAliases[key]...)
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("binding %s env: %w", key, err)
		}
	}

	// Load global config first (if exists)
	globalPath := GlobalPath()
	if fileExists(globalPath) {
		v.SetConfigFile(globalPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading global config: %w", err)
		}
	}

	// Merge project config on top (if exists)
	projectPath := ProjectPath()
	if fileExists(projectPath) {
		v.SetConfigFile(projectPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that limits are usable and the provider is known.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderAnthropic, ProviderGemini:
	default:
		return fmt.Errorf("unknown provider %q (must be %s or %s)", c.Provider, ProviderAnthropic, ProviderGemini)
	}
	if c.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}
	positive := map[string]int64{
		"max_iterations":       int64(c.MaxIterations),
		"max_tokens":           int64(c.MaxTokens),
		"max_file_size":        c.MaxFileSize,
		"max_write_size":       c.MaxWriteSize,
		"max_output_size":      int64(c.MaxOutputSize),
		"command_timeout":      int64(c.CommandTimeout),
		"max_delete_files":     int64(c.MaxDeleteFiles),
		"max_search_results":   int64(c.MaxSearchResults),
		"max_search_files":     int64(c.MaxSearchFiles),
		"max_matches_per_file": int64(c.MaxMatchesPerFile),
		"request_timeout":      int64(c.RequestTimeout),
	}
	for key, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be > 0 (got %d)", key, value)
		}
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0 (got %d)", c.MaxRetries)
	}
	if c.InputCostPerMTok < 0 || c.OutputCostPerMTok < 0 {
		return fmt.Errorf("cost rates must be >= 0")
	}
	return nil
}

// CommandTimeoutDuration returns the shell command timeout.
func (c *Config) CommandTimeoutDuration() time.Duration {
	return time.Duration(c.CommandTimeout) * time.Second
}

// RequestTimeoutDuration returns the per-attempt model request timeout.
func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// RetryBaseDelay returns the first retry backoff delay.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// Exists returns true if any config file exists (global or project).
func Exists() bool {
	return fileExists(GlobalPath()) || fileExists(ProjectPath())
}

// GlobalPath returns the XDG global config path.
// Returns ~/.config/taskr/taskr.yml or $XDG_CONFIG_HOME/taskr/taskr.yml.
func GlobalPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "taskr", "taskr.yml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "taskr", "taskr.yml")
}

// ProjectPath returns the project-local config path.
// Returns ./taskr.yml in the current working directory.
func ProjectPath() string {
	return "taskr.yml"
}

// WriteGlobal writes the config to the XDG global location.
func WriteGlobal(cfg *Config) error {
	path := GlobalPath()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return write(path, cfg)
}

// WriteProject writes the config to the project-local location.
func WriteProject(cfg *Config) error {
	return write(ProjectPath(), cfg)
}

func write(path string, cfg *Config) error {
	// API keys stay in the environment
	out := *cfg
	out.APIKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
