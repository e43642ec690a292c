package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for nanobot.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Provider ProviderConfig `json:"provider" yaml:"provider"`
	Channels ChannelsConfig `json:"channels" yaml:"channels"`
	Memory   MemoryConfig   `json:"memory" yaml:"memory"`
	Tools    ToolsConfig    `json:"tools" yaml:"tools"`
	Cron     CronConfig     `json:"cron" yaml:"cron"`
	Subagent SubagentConfig `json:"subagent" yaml:"subagent"`
}

type GeneralConfig struct {
	Workspace         string `json:"workspace" yaml:"workspace"`
	LogLevel          string `json:"logLevel" yaml:"logLevel"`
	MaxIterations     int    `json:"maxIterations" yaml:"maxIterations"`
	SystemPromptExtra string `json:"systemPromptExtra,omitempty" yaml:"systemPromptExtra,omitempty"`
}

// ProviderConfig points at an OpenAI-compatible chat completions endpoint
// (OpenRouter, OpenAI, a local server).
type ProviderConfig struct {
	APIBase     string  `json:"apiBase" yaml:"apiBase"`
	APIKey      string  `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Model       string  `json:"model" yaml:"model"`
	MaxTokens   int     `json:"maxTokens" yaml:"maxTokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

type ChannelsConfig struct {
	CLI      CLIConfig      `json:"cli" yaml:"cli"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Discord  DiscordConfig  `json:"discord,omitempty" yaml:"discord,omitempty"`
	Slack    SlackConfig    `json:"slack,omitempty" yaml:"slack,omitempty"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Token     string         `json:"token" yaml:"token"`
	AllowFrom FlexStringList `json:"allowFrom" yaml:"allowFrom"`
	ParseMode string         `json:"parseMode" yaml:"parseMode"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token" yaml:"token"`
	GuildID string `json:"guildId,omitempty" yaml:"guildId,omitempty"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"botToken" yaml:"botToken"`
	AppToken string `json:"appToken" yaml:"appToken"` // required for Socket Mode
}

type MemoryConfig struct {
	DBPath string `json:"dbPath" yaml:"dbPath"`
	// Window is the session length that triggers background consolidation.
	Window int `json:"window" yaml:"window"`
}

type ToolsConfig struct {
	Shell ShellToolConfig `json:"shell" yaml:"shell"`
	Web   WebToolConfig   `json:"web" yaml:"web"`
}

type ShellToolConfig struct {
	Timeout        int `json:"timeout" yaml:"timeout"` // seconds
	MaxOutputBytes int `json:"maxOutputBytes" yaml:"maxOutputBytes"`
}

type WebToolConfig struct {
	// SearchAPIKey is a Brave Search API subscription token.
	SearchAPIKey  string `json:"searchApiKey,omitempty" yaml:"searchApiKey,omitempty"`
	MaxResults    int    `json:"maxResults" yaml:"maxResults"`
	FetchMaxChars int    `json:"fetchMaxChars" yaml:"fetchMaxChars"`
}

type CronConfig struct {
	Enabled bool       `json:"enabled" yaml:"enabled"`
	Tasks   []CronTask `json:"tasks,omitempty" yaml:"tasks,omitempty"`
}

type CronTask struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Message   string `json:"message" yaml:"message"`
	CronExpr  string `json:"cronExpr,omitempty" yaml:"cronExpr,omitempty"`
	IntervalS int    `json:"intervalSeconds,omitempty" yaml:"intervalSeconds,omitempty"`
	Channel   string `json:"channel" yaml:"channel"`
	ChatID    string `json:"chatId" yaml:"chatId"`
	Enabled   bool   `json:"enabled" yaml:"enabled"`
}

type SubagentConfig struct {
	MaxIterations int `json:"maxIterations" yaml:"maxIterations"`
}

// FlexStringList is a []string that can unmarshal from arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

func (f *FlexStringList) UnmarshalYAML(value *yaml.Node) error {
	var ss []string
	if err := value.Decode(&ss); err == nil {
		*f = ss
		return nil
	}
	var raw []any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			result = append(result, v)
		case int:
			result = append(result, strconv.Itoa(v))
		case float64:
			result = append(result, strconv.FormatInt(int64(v), 10))
		default:
			result = append(result, fmt.Sprint(v))
		}
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.nanobot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nanobot"
	}
	return filepath.Join(home, ".nanobot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, env-expands, parses, and validates a config file. JSON and
// YAML are both accepted; the format is picked by file extension.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// Save writes the config to path, JSON or YAML by extension.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxIterations < 1 || cfg.General.MaxIterations > 200 {
		errs = append(errs, "general.maxIterations must be between 1 and 200")
	}
	if cfg.Provider.APIBase == "" {
		errs = append(errs, "provider.apiBase is required")
	}
	if cfg.Provider.Model == "" {
		errs = append(errs, "provider.model is required")
	}
	if cfg.Provider.MaxTokens < 1 {
		errs = append(errs, "provider.maxTokens must be >= 1")
	}
	if cfg.Memory.Window < 2 {
		errs = append(errs, "memory.window must be >= 2")
	}
	if cfg.Tools.Shell.Timeout < 1 {
		errs = append(errs, "tools.shell.timeout must be >= 1")
	}
	if cfg.Subagent.MaxIterations < 1 {
		errs = append(errs, "subagent.maxIterations must be >= 1")
	}
	for _, task := range cfg.Cron.Tasks {
		if task.CronExpr == "" && task.IntervalS <= 0 {
			errs = append(errs, fmt.Sprintf("cron task %q needs cronExpr or intervalSeconds", task.ID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
