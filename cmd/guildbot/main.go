package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

// ANSI SGR codes for terminal output; disabled by --no-color or NO_COLOR.
const (
	styleBold = "1"
	styleFail = "31"
	styleOK   = "32"
	styleWarn = "33"
)

func styled(style, text string) string {
	if noColor {
		return text
	}
	return "\033[" + style + "m" + text + "\033[0m"
}

// notify writes a one-line outcome to stderr; stdout carries command output.
func notify(style, mark, format string, args ...any) {
	fmt.Fprintln(os.Stderr, styled(style, mark+" "+fmt.Sprintf(format, args...)))
}

var rootCmd = &cobra.Command{
	Use:           "guildbot",
	Short:         "Discord guild assistant: Gemini chat, member profiles and boss lookups",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the guildbot version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "guildbot version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(startBotCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(bossCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		notify(styleFail, "✗", "%v", err)
		os.Exit(1)
	}
}
