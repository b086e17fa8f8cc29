package cmd

import (
	"os"

	"github.com/habedi/sessync/db"
	"github.com/habedi/sessync/pkg/clierr"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func Execute() {
	rootCmd := createRootCmd()
	initializeDatabase()

	err := rootCmd.Execute()
	closeDatabase()
	if err != nil {
		log.Error().Err(err).Msg("Command execution failed.")
		os.Exit(clierr.ExitCode(err))
	}
}

func createRootCmd() *cobra.Command {
	cfg := &settings{}
	rootCmd := &cobra.Command{
		Use:          "sessync",
		Short:        "Keep an authenticated session fresh across processes",
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolP("help", "h", false, "Show help for a command")
	flags.StringVarP(&cfg.refreshURL, "refresh-url", "u", envOr(envRefreshURL, ""), "Refresh endpoint that exchanges a refresh token for a new pair")
	flags.StringVar(&cfg.redisAddr, "redis", envOr(envRedisAddr, ""), "Redis address used to reach other sessync processes (host:port)")
	flags.StringVarP(&cfg.channel, "channel", "c", envOr(envChannel, defaultChannel), "Name of the channel shared by sibling sessions")
	flags.BoolVarP(&cfg.verbose, "verbose", "v", false, "Log queued and replayed requests")

	rootCmd.AddCommand(
		loginCmd(cfg),
		logoutCmd(cfg),
		statusCmd(),
		getCmd(cfg),
		burstCmd(cfg),
		watchCmd(cfg),
		versionCmd(),
	)

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})

	return rootCmd
}

func initializeDatabase() {
	if err := db.InitDB(); err != nil {
		log.Error().Err(err).Msg("Failed to initialize database")
		os.Exit(1)
	}
}

func closeDatabase() {
	if err := db.CloseDB(); err != nil {
		log.Error().Err(err).Msg("Failed to close the database.")
		os.Exit(1)
	}
}
