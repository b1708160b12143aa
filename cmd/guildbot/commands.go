package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/maplenook/guildbot/internal/boss"
	"github.com/maplenook/guildbot/internal/config"
	"github.com/maplenook/guildbot/internal/profile"
	"github.com/maplenook/guildbot/internal/storage"
)

// withStores loads config and opens the stores for a one-shot command.
func withStores(ctx context.Context, fn func(cfg config.Config, st *stores) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level)
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cfg, st)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect and edit member profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <user_id>",
	Short: "Show a member's profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd.Context(), func(_ config.Config, st *stores) error {
			p, err := st.profiles.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(os.Stdout, p)
		})
	},
}

var profileSetRoleCmd = &cobra.Command{
	Use:   "set-role <user_id> <role>",
	Short: "Set a member's current role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, role := args[0], strings.TrimSpace(args[1])
		if role == "" {
			return fmt.Errorf("role must not be empty")
		}
		return withStores(cmd.Context(), func(_ config.Config, st *stores) error {
			if err := setRole(cmd.Context(), st.profiles, userID, role); err != nil {
				return err
			}
			notify(styleOK, "✓", "Set role of %s to %s", userID, role)
			return nil
		})
	},
}

type profileStore interface {
	Get(ctx context.Context, userID string) (profile.Profile, error)
	Update(ctx context.Context, userID string, data profile.Profile) error
}

func setRole(ctx context.Context, profiles profileStore, userID, role string) error {
	p, err := profiles.Get(ctx, userID)
	if err != nil {
		return err
	}
	return profiles.Update(ctx, userID, p.WithRole(userID, role))
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetRoleCmd)
}

// --- boss ---

var bossCmd = &cobra.Command{
	Use:   "boss",
	Short: "Query the boss catalog",
}

var bossListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bosses, optionally within a chapter range",
	RunE: func(cmd *cobra.Command, args []string) error {
		chapters, _ := cmd.Flags().GetString("chapters")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		catalog, err := boss.Load(bossFile(cfg))
		if err != nil {
			return err
		}

		bosses := catalog.Bosses
		if chapters != "" {
			r, err := boss.ParseRange(chapters)
			if err != nil {
				return err
			}
			bosses = catalog.InChapters(r.Lo, r.Hi)
		}
		printBosses(os.Stdout, bosses)
		return nil
	},
}

var bossShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one boss's stat sheet as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		catalog, err := boss.Load(bossFile(cfg))
		if err != nil {
			return err
		}
		b, ok := catalog.ByName(args[0])
		if !ok {
			return fmt.Errorf("no boss named %q", args[0])
		}
		return writeJSON(os.Stdout, b)
	},
}

func printBosses(w io.Writer, bosses []boss.Boss) {
	if len(bosses) == 0 {
		fmt.Fprintln(w, "No bosses found.")
		return
	}
	for _, b := range bosses {
		fmt.Fprintf(w, "%4s  %s  %s (%s)\n",
			b.No,
			styled(styleBold, fmt.Sprintf("ch.%-2d", b.Chapter)),
			b.Name,
			b.English,
		)
	}
}

func init() {
	bossListCmd.Flags().String("chapters", "", "chapter range such as 1-3")
	bossCmd.AddCommand(bossListCmd)
	bossCmd.AddCommand(bossShowCmd)
}

// --- history ---

const maxPromptPreview = 80

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent chat interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		userID, _ := cmd.Flags().GetString("user")

		return withStores(cmd.Context(), func(_ config.Config, st *stores) error {
			interactions, err := st.local.GetRecentInteractions(limit, userID)
			if err != nil {
				return err
			}
			printInteractions(os.Stdout, interactions)
			return nil
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd.Context(), func(_ config.Config, st *stores) error {
			ix, err := st.local.GetInteraction(args[0])
			if err != nil {
				return fmt.Errorf("interaction %s: %w", args[0], err)
			}
			return writeJSON(os.Stdout, ix)
		})
	},
}

func printInteractions(w io.Writer, interactions []storage.Interaction) {
	if len(interactions) == 0 {
		fmt.Fprintln(w, "No interactions found.")
		return
	}
	for _, ix := range interactions {
		prompt := strings.ReplaceAll(ix.Prompt, "\n", " ")
		if utf8.RuneCountInString(prompt) > maxPromptPreview {
			prompt = string([]rune(prompt)[:maxPromptPreview]) + "..."
		}
		id := ix.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(w, "%s  %s  %-9s  %s  %s\n",
			styled(styleBold, id),
			ix.CreatedAt.Format("2006-01-02 15:04"),
			ix.Status,
			ix.UserID,
			prompt,
		)
	}
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	historyCmd.Flags().String("user", "", "only show interactions from this user id")
	historyCmd.AddCommand(historyShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		printConfig(os.Stdout, config.ShowAll(cfg))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in the config file. Secrets are read from the\n" +
		"environment only. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		notify(styleOK, "✓", "Set %s = %s", key, value)
		return nil
	},
}

func printConfig(w io.Writer, keys []config.KeyInfo) {
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", styled(styleBold, k.Key), k.Value)
	}
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
