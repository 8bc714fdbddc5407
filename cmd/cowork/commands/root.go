// Package commands provides the CLI commands for cowork.
package commands

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jasonwang82/opencowork-sub001/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var logLevel string

var rootCmd = &cobra.Command{
	Use:   "cowork",
	Short: "Cowork - session-scoped AI work orchestrator",
	Long: `Cowork runs AI work sessions, each with its own working directory,
conversation history, and permission scope.

Run 'cowork serve' to start the backend the desktop windows attach to,
or 'cowork auth login' to authenticate.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A local .env is optional.
		godotenv.Load()
		logging.Init(logging.Config{Level: logging.ParseLevel(logLevel), Pretty: true})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("cowork %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(sessionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
