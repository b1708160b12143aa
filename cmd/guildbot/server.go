package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/maplenook/guildbot/internal/api"
	"github.com/maplenook/guildbot/internal/boss"
	"github.com/maplenook/guildbot/internal/bot"
	"github.com/maplenook/guildbot/internal/config"
	"github.com/maplenook/guildbot/internal/gemini"
	"github.com/maplenook/guildbot/internal/profile"
	"github.com/maplenook/guildbot/internal/storage"
)

const shutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Discord bot and its HTTP endpoints (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		noAutoStart, _ := cmd.Flags().GetBool("no-auto-start")
		return runServer(!noAutoStart)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve profile and boss tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show guildbot status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.OutOrStdout())
	},
}

var startBotCmd = &cobra.Command{
	Use:   "start-bot",
	Short: "Ask a running server to connect the bot to Discord",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/start_bot")
		if err != nil {
			return err
		}
		msg, err := readText(resp)
		if err != nil {
			return err
		}
		notify(styleOK, "✓", "%s", msg)
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("no-auto-start", false, "wait for POST /start_bot before connecting to Discord")
}

// newLogger builds the process logger and routes discordgo's own logging
// through it.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		notify(styleWarn, "!", "invalid log level %q, using info", level)
		lvl = slog.LevelInfo
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.DateTime,
		NoColor:    noColor,
	})
	discordgo.Logger = bot.DiscordgoLogger(handler)
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// sharedDocs lets the profile store use the interaction log's database
// without closing it.
type sharedDocs struct {
	storage.Documents
}

func (sharedDocs) Close() error { return nil }

// profileConnector returns how the profile store reaches its backend.
func profileConnector(cfg config.Config, local *storage.Store) profile.Connector {
	if cfg.Storage.Backend == "sqlite" {
		return func(context.Context) (storage.Documents, error) {
			return sharedDocs{local}, nil
		}
	}
	return func(ctx context.Context) (storage.Documents, error) {
		fs, err := storage.OpenFirestore(ctx, storage.FirestoreConfig{
			CredentialsJSON: cfg.Firebase.Credentials,
			ProjectID:       cfg.Firebase.ProjectID,
			ProbeCollection: profile.Collection,
		})
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
}

type stores struct {
	local    *storage.Store
	profiles *profile.Store
}

func (s *stores) Close() {
	if err := s.profiles.Close(); err != nil {
		notify(styleWarn, "!", "closing profile store: %v", err)
	}
	if err := s.local.Close(); err != nil {
		notify(styleWarn, "!", "closing storage: %v", err)
	}
}

// openStores opens the local database and builds the profile store on the
// configured backend. A profile backend that is down does not fail startup.
func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stores, error) {
	policy, err := profile.ParseCachePolicy(cfg.Profile.CachePolicy)
	if err != nil {
		return nil, err
	}

	local, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	profiles := profile.New(profileConnector(cfg, local),
		profile.WithCachePolicy(policy),
		profile.WithLogger(logger.With("logger", "profile")),
	)
	if err := profiles.Initialize(ctx); err == nil {
		logger.Info("profile store connected", "backend", cfg.Storage.Backend)
	}

	return &stores{local: local, profiles: profiles}, nil
}

func bossFile(cfg config.Config) string {
	return filepath.Join(cfg.Data.Dir, boss.FileName)
}

func runServer(autoStart bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireBotSecrets(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	logger.Info("guildbot starting", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	prompter, err := gemini.LoadPrompter(cfg.Data.Dir, logger)
	if err != nil {
		return fmt.Errorf("loading prompt files: %w", err)
	}
	client := gemini.NewClient(cfg.Gemini.APIKey, gemini.Options{
		BaseURL:     cfg.Gemini.BaseURL,
		Model:       cfg.Gemini.Model,
		Temperature: cfg.Gemini.Temperature,
		Logger:      logger.With("logger", "gemini"),
	})

	b, err := bot.New(bot.Config{
		Token:         cfg.Discord.Token,
		GuildID:       cfg.Discord.GuildID,
		CommandPrefix: cfg.Discord.CommandPrefix,
		RatePerMinute: cfg.Chat.RatePerMinute,
		Model:         client.Model(),
		BossFile:      bossFile(cfg),
		Profiles:      st.profiles,
		Generator:     client,
		Prompter:      prompter,
		Interactions:  st.local,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewHandler(api.ServerDeps{
			Bot:    b,
			Token:  cfg.Server.Token,
			Logger: logger.With("logger", "http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if autoStart {
		g.Go(func() error {
			// A failed connect leaves the server up so /start_bot can retry.
			if err := b.Start(); err != nil && !errors.Is(err, bot.ErrAlreadyRunning) {
				logger.Error("error starting bot", tint.Err(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", tint.Err(err))
		}
		if err := b.Stop(); err != nil {
			logger.Warn("closing discord session", tint.Err(err))
		}
		return nil
	})

	return g.Wait()
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// stdout carries the protocol; logs go to stderr only.
	logger := newLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Profiles:     st.profiles,
		Interactions: st.local,
		BossFile:     bossFile(cfg),
	}, version)

	logger.Info("MCP server started (stdio transport)")
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func showStatus(w io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		notify(styleFail, "✗", "config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(label, format string, args ...any) {
		fmt.Fprintf(tw, "%s\t%s\n", styled(styleBold, label), fmt.Sprintf(format, args...))
	}

	if resp, err := client.get(context.Background(), "/health"); err != nil {
		row("server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			row("server", "running on port %d", cfg.Server.Port)
		} else {
			row("server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	row("storage", "%s", cfg.Storage.Backend)
	row("cache policy", "%s", cfg.Profile.CachePolicy)
	row("gemini model", "%s", cfg.Gemini.Model)
	if _, err := boss.Load(bossFile(cfg)); err != nil {
		row("boss catalog", "unavailable (%v)", err)
	} else {
		row("boss catalog", "%s", bossFile(cfg))
	}
	if err := cfg.RequireBotSecrets(); err != nil {
		row("secrets", "%v", err)
	} else {
		row("secrets", "ok")
	}
	row("data dir", "%s", cfg.Storage.DataDir)
	return tw.Flush()
}
