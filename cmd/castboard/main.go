package main

import (
	"log/slog"
	"os"

	"github.com/alfredjeanlab/castboard/internal/ui"
	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	verbose    bool
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "castboard <command>",
	Short:         "Broadcaster analytics backend and maintenance tools",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "admin", Title: "Administration:"},
	)

	cobra.EnableCommandSorting = false
	ui.SetColor(ui.ShouldUseColor())
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Server
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(eventsCmd)

	// Data
	rootCmd.AddCommand(mediaCmd)
	rootCmd.AddCommand(backupCmd)

	// Administration
	rootCmd.AddCommand(userCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmtError(err)
		os.Exit(1)
	}
}
