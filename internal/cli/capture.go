package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/voxjot/voxjot/internal/api"
	"github.com/voxjot/voxjot/internal/capture"
	"github.com/voxjot/voxjot/internal/config"
	"github.com/voxjot/voxjot/internal/recognizer"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Open the voice capture TUI",
	Long: `Opens the recording interface. Press Space to start and stop recording;
finalized transcripts are submitted to the server for extraction.

Requires a running "voxjot serve" and the recognizer daemon socket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		client := api.NewClient(cfg.ServerURL)

		// A fresh daemon connection per capture attempt. Spent engine
		// instances are discarded, never restarted.
		dial := func() (recognizer.Engine, error) {
			return recognizer.Connect(cfg.RecognizerSock)
		}

		model := capture.New(dial, client, cfg.Locale)
		program := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := program.Run(); err != nil {
			return fmt.Errorf("running capture UI: %w", err)
		}
		return nil
	},
}
