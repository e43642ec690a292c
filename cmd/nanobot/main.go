package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahmedgamalalzatary/nanobot/internal/agent"
	"github.com/ahmedgamalalzatary/nanobot/internal/bus"
	"github.com/ahmedgamalalzatary/nanobot/internal/channel"
	"github.com/ahmedgamalalzatary/nanobot/internal/config"
	"github.com/ahmedgamalalzatary/nanobot/internal/cron"
	"github.com/ahmedgamalalzatary/nanobot/internal/domain"
	"github.com/ahmedgamalalzatary/nanobot/internal/fetch"
	"github.com/ahmedgamalalzatary/nanobot/internal/memory"
	"github.com/ahmedgamalalzatary/nanobot/internal/provider"
	"github.com/ahmedgamalalzatary/nanobot/internal/subagent"
	"github.com/ahmedgamalalzatary/nanobot/internal/tool"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "nanobot",
		Short:   "nanobot: a tiny personal AI agent",
		Long:    "nanobot is a small agent that chats over CLI, Telegram, Discord, and Slack, with tools, memory, and scheduled tasks.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.nanobot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				logger.Info("config already exists", "path", cfgPath)
				return nil
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			workspace := config.ExpandPath(cfg.General.Workspace)
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "workspace", workspace)
			return nil
		},
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "error", err)
		cfg = config.Defaults()
		cfg.General.Workspace = config.ExpandPath(cfg.General.Workspace)
		cfg.Memory.DBPath = config.ExpandPath(cfg.Memory.DBPath)
	}
	applyLogLevel(cfg.General.LogLevel)
	return cfg
}

func applyLogLevel(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// runtime bundles everything a running agent needs. Both chat and
// gateway build one; they differ only in which channels they start.
type runtime struct {
	cfg      *config.Config
	bus      *bus.InMemoryBus
	store    *memory.SQLiteStore
	loop     *agent.Loop
	superv   *agent.Supervisor
	cronSvc  *cron.Service
	shutdown func()
}

func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	messageBus := bus.New(100, logger)

	store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
	if err != nil {
		messageBus.Close()
		return nil, fmt.Errorf("memory store: %w", err)
	}

	prov := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:  cfg.Provider.APIKey,
		APIBase: cfg.Provider.APIBase,
		Model:   cfg.Provider.Model,
		Logger:  logger,
	})
	if err := prov.Healthy(ctx); err != nil {
		logger.Warn("provider unhealthy at startup", "provider", prov.Name(), "error", err)
	}

	supervisor := agent.NewSupervisor(logger)
	sessions := agent.NewSessionManager(store, logger)
	prompt := agent.NewPromptBuilder(cfg.General.Workspace, store, cfg.General.SystemPromptExtra, logger)
	consolidator := agent.NewConsolidator(agent.ConsolidatorConfig{
		Provider: prov,
		Memory:   store,
		Sessions: sessions,
		Model:    cfg.Provider.Model,
		Window:   cfg.Memory.Window,
		Logger:   logger,
	})

	shellCfg := tool.ShellConfig{
		WorkingDir:     cfg.General.Workspace,
		TimeoutSeconds: cfg.Tools.Shell.Timeout,
		MaxOutputBytes: cfg.Tools.Shell.MaxOutputBytes,
	}

	subagents := subagent.NewManager(subagent.Config{
		Provider:      prov,
		Bus:           messageBus,
		Supervisor:    supervisor,
		Logger:        logger,
		Workspace:     cfg.General.Workspace,
		Model:         cfg.Provider.Model,
		MaxTokens:     cfg.Provider.MaxTokens,
		Temperature:   cfg.Provider.Temperature,
		MaxIterations: cfg.Subagent.MaxIterations,
		Shell:         shellCfg,
		SearchAPIKey:  cfg.Tools.Web.SearchAPIKey,
		SearchMax:     cfg.Tools.Web.MaxResults,
		FetchMax:      cfg.Tools.Web.FetchMaxChars,
	})

	cronSvc := cron.NewService(messageBus, logger)
	for _, t := range cfg.Cron.Tasks {
		task := cron.Task{
			ID:       t.ID,
			Name:     t.Name,
			Message:  t.Message,
			CronExpr: t.CronExpr,
			Interval: time.Duration(t.IntervalS) * time.Second,
			Channel:  t.Channel,
			ChatID:   t.ChatID,
			Enabled:  t.Enabled,
		}
		if err := cronSvc.Add(task); err != nil {
			logger.Warn("skipping invalid cron task", "id", t.ID, "error", err)
		}
	}

	registry := tool.NewRegistry(logger)
	registry.Register(tool.NewReadFileTool(cfg.General.Workspace))
	registry.Register(tool.NewWriteFileTool(cfg.General.Workspace))
	registry.Register(tool.NewEditFileTool(cfg.General.Workspace))
	registry.Register(tool.NewListDirTool(cfg.General.Workspace))
	registry.Register(tool.NewShellTool(shellCfg))
	registry.Register(tool.NewWebSearchTool(cfg.Tools.Web.SearchAPIKey, cfg.Tools.Web.MaxResults))
	registry.Register(fetch.NewTool(fetch.NewFetcher(fetch.NewValidator()), cfg.Tools.Web.FetchMaxChars))
	registry.Register(tool.NewMessageTool(messageBus))
	registry.Register(tool.NewSpawnTool(subagents))
	if cfg.Cron.Enabled {
		registry.Register(tool.NewCronTool(cronSvc))
	}

	loop := agent.NewLoop(agent.LoopConfig{
		Provider:      prov,
		Sessions:      sessions,
		Prompt:        prompt,
		Tools:         registry,
		Consolidator:  consolidator,
		Supervisor:    supervisor,
		Bus:           messageBus,
		Logger:        logger,
		Model:         cfg.Provider.Model,
		MaxTokens:     cfg.Provider.MaxTokens,
		Temperature:   cfg.Provider.Temperature,
		MaxIterations: cfg.General.MaxIterations,
		MemoryWindow:  cfg.Memory.Window,
	})

	rt := &runtime{
		cfg:     cfg,
		bus:     messageBus,
		store:   store,
		loop:    loop,
		superv:  supervisor,
		cronSvc: cronSvc,
	}
	rt.shutdown = func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := supervisor.Drain(drainCtx); err != nil {
			logger.Warn("background jobs did not finish in time", "error", err)
		}
		cronSvc.Stop()
		messageBus.Close()
		if err := store.Close(); err != nil {
			logger.Warn("closing memory store", "error", err)
		}
	}
	return rt, nil
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive terminal chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			go rt.loop.Run(ctx)
			if cfg.Cron.Enabled {
				go rt.cronSvc.Start(ctx)
			}

			cli := channel.NewCLI(channel.CLIConfig{Logger: logger})
			return cli.Start(ctx, rt.bus)
		},
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start all enabled channels and the agent loop",
		Long:  "Starts the agent loop, cron scheduler, and every enabled channel. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyLogLevel(cfg.General.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	go rt.loop.Run(ctx)
	if cfg.Cron.Enabled {
		go rt.cronSvc.Start(ctx)
	}

	var channels []domain.Channel
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Logger:    logger,
		}))
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		channels = append(channels, channel.NewDiscord(channel.DiscordConfig{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			Logger:  logger,
		}))
	}
	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken != "" {
		channels = append(channels, channel.NewSlack(channel.SlackConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   logger,
		}))
	}

	for _, ch := range channels {
		ch := ch
		go func() {
			if err := ch.Start(ctx, rt.bus); err != nil {
				logger.Error("channel error", "channel", ch.Name(), "error", err)
			}
		}()
		logger.Info("channel started", "channel", ch.Name())
	}
	if len(channels) == 0 {
		logger.Warn("no channels enabled; the agent is only reachable via cron tasks")
	}
	logger.Info("gateway started", "channels", len(channels))

	<-ctx.Done()
	logger.Info("shutting down gateway")
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config and provider status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			prov := provider.NewOpenAI(provider.OpenAIConfig{
				APIKey:  cfg.Provider.APIKey,
				APIBase: cfg.Provider.APIBase,
				Model:   cfg.Provider.Model,
				Logger:  logger,
			})
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := prov.Healthy(ctx); err != nil {
				logger.Info("provider", "model", cfg.Provider.Model, "healthy", false, "error", err)
			} else {
				logger.Info("provider", "model", cfg.Provider.Model, "healthy", true)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. provider.model)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. provider.model openrouter/auto)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
