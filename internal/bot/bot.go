// Package bot connects the profile store, boss catalog and Gemini chat to a
// Discord gateway session.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"

	"github.com/maplenook/guildbot/internal/gemini"
	"github.com/maplenook/guildbot/internal/profile"
	"github.com/maplenook/guildbot/internal/storage"
)

var (
	ErrEmptyToken     = errors.New("discord bot token is empty")
	ErrAlreadyRunning = errors.New("bot is already running")
)

const (
	defaultMenuTimeout     = 180 * time.Second
	defaultGenerateTimeout = 90 * time.Second
)

// ProfileStore reads and merge-writes user profiles.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (profile.Profile, error)
	Update(ctx context.Context, userID string, data profile.Profile) error
}

// Generator produces a chat reply.
type Generator interface {
	Generate(ctx context.Context, req gemini.Request) (string, error)
}

// InteractionLog records chat exchanges.
type InteractionLog interface {
	SaveInteraction(i storage.Interaction) error
}

// Config wires the bot to its collaborators. Generator and Interactions may
// be nil: chat then answers with an apology, and exchanges are not logged.
type Config struct {
	Token         string
	GuildID       string
	CommandPrefix string
	RatePerMinute int
	Model         string
	BossFile      string

	Profiles     ProfileStore
	Generator    Generator
	Prompter     *gemini.Prompter
	Interactions InteractionLog
	Logger       *slog.Logger
}

// Option configures a Bot.
type Option func(*Bot)

// WithSession injects a pre-configured session instead of creating one from
// Config.Token.
func WithSession(s *discordgo.Session) Option {
	return func(b *Bot) { b.s = s }
}

// WithMenuTimeout changes how long /info boss menus stay usable.
func WithMenuTimeout(d time.Duration) Option {
	return func(b *Bot) { b.menuTimeout = d }
}

// Bot handles gateway events for one session.
type Bot struct {
	cfg         Config
	s           session
	logger      *slog.Logger
	limiter     *userLimiter
	menus       *menuRegistry
	menuTimeout time.Duration

	mu            sync.Mutex
	running       bool
	handlersAdded bool
	ctx           context.Context
	cancel        context.CancelFunc
	botID         string
}

// New creates a Bot. The gateway is not opened until Start.
func New(cfg Config, opts ...Option) (*Bot, error) {
	if cfg.Profiles == nil {
		return nil, errors.New("bot requires a profile store")
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}
	if cfg.Prompter == nil {
		cfg.Prompter = &gemini.Prompter{}
	}

	b := &Bot{
		cfg:         cfg,
		logger:      cfg.Logger,
		limiter:     newUserLimiter(cfg.RatePerMinute),
		menus:       newMenuRegistry(),
		menuTimeout: defaultMenuTimeout,
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("logger", "bot")
	b.ctx, b.cancel = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(b)
	}

	if b.s == nil {
		if cfg.Token == "" {
			return nil, ErrEmptyToken
		}
		s, err := discordgo.New("Bot " + cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to create Discord session: %w", err)
		}
		s.Identify.Intents = discordgo.IntentGuilds |
			discordgo.IntentGuildMessages |
			discordgo.IntentDirectMessages |
			discordgo.IntentMessageContent
		s.LogLevel = DiscordgoLogLevel(slog.LevelWarn)
		b.s = s
	}

	return b, nil
}

// Start opens the gateway connection. It returns ErrAlreadyRunning if the
// bot is connected.
func (b *Bot) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return ErrAlreadyRunning
	}
	if !b.handlersAdded {
		b.s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) { b.onReady(r) })
		b.s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { b.onMessage(m) })
		b.s.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) { b.onInteraction(i) })
		b.handlersAdded = true
	}

	if err := b.s.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	if b.ctx.Err() != nil {
		b.ctx, b.cancel = context.WithCancel(context.Background())
	}
	b.running = true
	b.logger.Info("discord session opened")
	return nil
}

// Stop closes the gateway connection and expires open menus. Stopping a bot
// that is not running is a no-op.
func (b *Bot) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return nil
	}
	b.cancel()
	b.menus.stopAll()
	b.running = false
	if err := b.s.Close(); err != nil {
		return fmt.Errorf("failed to close Discord session: %w", err)
	}
	b.logger.Info("discord session closed")
	return nil
}

// Running reports whether the gateway connection is open.
func (b *Bot) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *Bot) baseContext() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

func (b *Bot) selfID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.botID
}

func (b *Bot) onReady(r *discordgo.Ready) {
	if r.User == nil {
		return
	}
	appID := r.User.ID
	if r.Application != nil && r.Application.ID != "" {
		appID = r.Application.ID
	}

	b.mu.Lock()
	b.botID = r.User.ID
	b.mu.Unlock()

	b.logger.Info("logged in", "user", r.User.Username, "id", r.User.ID)

	created, err := b.s.ApplicationCommandBulkOverwrite(appID, b.cfg.GuildID, commands())
	if err != nil {
		b.logger.Error("error registering application commands", tint.Err(err))
		return
	}
	b.logger.Info("application commands registered", "count", len(created), "guild_id", b.cfg.GuildID)
}

func commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        cmdSetRole,
			Description: "設定你的角色",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optNewRole,
					Description: "新的角色名稱",
					Required:    true,
				},
			},
		},
		{
			Name:        cmdInfo,
			Description: "查詢遊戲資料",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subBoss,
					Description: "查詢 Boss 資料",
				},
			},
		},
	}
}

func (b *Bot) onInteraction(i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		switch data.Name {
		case cmdSetRole:
			b.handleSetRoleCommand(i.Interaction, data)
		case cmdInfo:
			if len(data.Options) > 0 && data.Options[0].Name == subBoss {
				b.handleBossCommand(i.Interaction)
			}
		}
	case discordgo.InteractionMessageComponent:
		b.handleMenu(i.Interaction)
	}
}

// interactionUser returns the invoking user for guild and DM interactions.
func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func (b *Bot) respond(i *discordgo.Interaction, resp *discordgo.InteractionResponse) {
	if err := b.s.InteractionRespond(i, resp); err != nil {
		b.logger.Error("error responding to interaction", "interaction_id", i.ID, tint.Err(err))
	}
}

func (b *Bot) respondEphemeral(i *discordgo.Interaction, content string) {
	b.respond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func (b *Bot) send(channelID, content string) {
	if _, err := b.s.ChannelMessageSend(channelID, content); err != nil {
		b.logger.Error("error sending message", "channel_id", channelID, tint.Err(err))
	}
}
