package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Discord  DiscordConfig
	Gemini   GeminiConfig
	Chat     ChatConfig
	Data     DataConfig
	Storage  StorageConfig
	Firebase FirebaseConfig
	Profile  ProfileConfig
	Server   ServerConfig
	Log      LogConfig
}

type DiscordConfig struct {
	Token         string
	GuildID       string
	CommandPrefix string
}

type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
}

type ChatConfig struct {
	RatePerMinute int
}

// DataConfig locates the boss CSV, the system rule and the keyword list.
type DataConfig struct {
	Dir string
}

type StorageConfig struct {
	// Backend selects the profile document store: "firestore" or "sqlite".
	Backend string
	DataDir string
}

type FirebaseConfig struct {
	Credentials string
	ProjectID   string
}

type ProfileConfig struct {
	CachePolicy string
}

type ServerConfig struct {
	Port      int
	AutoStart bool
	// Token, when set, is required as a bearer token on POST /start_bot.
	Token string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Discord: DiscordConfig{
			CommandPrefix: "!",
		},
		Gemini: GeminiConfig{
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta/openai",
			Model:       "gemini-2.5-flash",
			Temperature: 1.0,
		},
		Chat: ChatConfig{
			RatePerMinute: 6,
		},
		Data: DataConfig{
			Dir: "data",
		},
		Storage: StorageConfig{
			Backend: "firestore",
			DataDir: defaultDataDir(),
		},
		Profile: ProfileConfig{
			CachePolicy: "merge",
		},
		Server: ServerConfig{
			Port:      8080,
			AutoStart: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from defaults, the JSON file backend at
// $XDG_CONFIG_HOME/guildbot/config.json and environment variables, in that
// order. A .env file in the working directory is loaded into the environment
// first; variables already set are not overwritten.
//
// Secrets (Discord token, Gemini key, Firebase credentials) are read from the
// environment only.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read .env: %v\n", err)
	}
	return loadWith(newPlatformBackend())
}

func loadWith(b backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	switch cfg.Storage.Backend {
	case "firestore", "sqlite":
	default:
		return Config{}, fmt.Errorf("invalid storage.backend %q: want \"firestore\" or \"sqlite\"", cfg.Storage.Backend)
	}
	switch cfg.Profile.CachePolicy {
	case "merge", "replace":
	default:
		return Config{}, fmt.Errorf("invalid profile.cache_policy %q: want \"merge\" or \"replace\"", cfg.Profile.CachePolicy)
	}

	return cfg, nil
}

// RequireBotSecrets reports the secrets the bot cannot run without.
func (c Config) RequireBotSecrets() error {
	var missing []string
	if c.Discord.Token == "" {
		missing = append(missing, "Discord bot token (DISCORD_BOT_TOKEN)")
	}
	if c.Gemini.APIKey == "" {
		missing = append(missing, "Gemini API key (GEMINI_API_KEY)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s. Set it in the environment or in .env", strings.Join(missing, ", "))
	}
	return nil
}
