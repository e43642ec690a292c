package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:     "~/.nanobot/workspace",
			LogLevel:      "info",
			MaxIterations: 40,
		},
		Provider: ProviderConfig{
			APIBase:     "https://openrouter.ai/api/v1",
			Model:       "anthropic/claude-sonnet-4",
			MaxTokens:   8192,
			Temperature: 0.7,
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{
				Enabled: true,
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
		},
		Memory: MemoryConfig{
			DBPath: "~/.nanobot/nanobot.db",
			Window: 50,
		},
		Tools: ToolsConfig{
			Shell: ShellToolConfig{
				Timeout:        60,
				MaxOutputBytes: 65536,
			},
			Web: WebToolConfig{
				MaxResults:    5,
				FetchMaxChars: 50000,
			},
		},
		Cron: CronConfig{
			Enabled: true,
		},
		Subagent: SubagentConfig{
			MaxIterations: 15,
		},
	}
}
