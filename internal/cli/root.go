// Package cli wires up the voxjot command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/voxjot/voxjot/internal/logging"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "voxjot",
	Short: "Turn voice notes into organized reminders, tasks and events",
	Long: `VoxJot captures speech, extracts structured items with an AI model,
and files them into categories, with optional Google Calendar sync.

Run "voxjot serve" to start the processing server, then "voxjot capture"
for the recording TUI.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(calendarCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
