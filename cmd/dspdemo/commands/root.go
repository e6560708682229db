// Package commands implements the dspdemo CLI, an in-process loopback
// exercise of the session protocol: two Nexus endpoints joined by a pipe
// transport, logging in, submitting commands concurrently, aborting, and
// reinstating a session, with no real network involved.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/nexusdsp/dsp/internal/logger"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "dspdemo",
	Short: "Loopback demonstration of the Delphix Session Protocol",
	Long: `dspdemo exercises a session-protocol nexus pair over an in-process
pipe transport: login negotiation, concurrent command submission,
task-management abort, and session reinstatement, with progress logged
at each step.

Use "dspdemo [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Init(logger.Config{Level: logLevel, Format: "text", Output: "stdout"})
	},
}

// Execute adds all child commands to the root command and runs it. Called
// once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}
