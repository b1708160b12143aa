package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "discord.token", typ: kString, env: "DISCORD_BOT_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Discord.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Discord.Token },
	},
	{
		key: "discord.guild_id", typ: kString, env: "GUILDBOT_DISCORD_GUILD_ID",
		apply:   func(cfg *Config, v any) { cfg.Discord.GuildID = v.(string) },
		extract: func(cfg Config) any { return cfg.Discord.GuildID },
	},
	{
		key: "discord.command_prefix", typ: kString, env: "GUILDBOT_DISCORD_COMMAND_PREFIX",
		apply:   func(cfg *Config, v any) { cfg.Discord.CommandPrefix = v.(string) },
		extract: func(cfg Config) any { return cfg.Discord.CommandPrefix },
	},
	{
		key: "gemini.api_key", typ: kString, env: "GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.base_url", typ: kString, env: "GUILDBOT_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.BaseURL },
	},
	{
		key: "gemini.model", typ: kString, env: "GUILDBOT_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Model },
	},
	{
		key: "gemini.temperature", typ: kFloat, env: "GUILDBOT_GEMINI_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Gemini.Temperature },
	},
	{
		key: "chat.rate_per_minute", typ: kInt, env: "GUILDBOT_CHAT_RATE_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Chat.RatePerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.RatePerMinute },
	},
	{
		key: "data.dir", typ: kString, env: "GUILDBOT_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Data.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Data.Dir },
	},
	{
		key: "storage.backend", typ: kString, env: "GUILDBOT_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "GUILDBOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "firebase.credentials", typ: kString, env: "FIREBASE_ADMIN_CREDENTIALS",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Firebase.Credentials = v.(string) },
		extract: func(cfg Config) any { return cfg.Firebase.Credentials },
	},
	{
		key: "firebase.project_id", typ: kString, env: "GUILDBOT_FIREBASE_PROJECT_ID",
		apply:   func(cfg *Config, v any) { cfg.Firebase.ProjectID = v.(string) },
		extract: func(cfg Config) any { return cfg.Firebase.ProjectID },
	},
	{
		key: "profile.cache_policy", typ: kString, env: "GUILDBOT_PROFILE_CACHE_POLICY",
		apply:   func(cfg *Config, v any) { cfg.Profile.CachePolicy = v.(string) },
		extract: func(cfg Config) any { return cfg.Profile.CachePolicy },
	},
	{
		key: "server.port", typ: kInt, env: "PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.auto_start", typ: kBool, env: "GUILDBOT_SERVER_AUTO_START",
		apply:   func(cfg *Config, v any) { cfg.Server.AutoStart = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.AutoStart },
	},
	{
		key: "server.token", typ: kString, env: "GUILDBOT_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "log.level", typ: kString, env: "GUILDBOT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func applyBackend(cfg *Config, b backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

func parseValue(typ keyType, raw string) (any, error) {
	var (
		v   any
		err error
	)
	switch typ {
	case kInt:
		v, err = strconv.Atoi(raw)
	case kBool:
		v, err = strconv.ParseBool(raw)
	case kFloat:
		v, err = strconv.ParseFloat(raw, 64)
	default:
		v = raw
	}
	return v, err
}
