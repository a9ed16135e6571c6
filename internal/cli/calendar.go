package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voxjot/voxjot/internal/api"
	"github.com/voxjot/voxjot/internal/config"
)

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Manage the Google Calendar connection",
}

var calendarStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a calendar is connected",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		connected, err := api.NewClient(cfg.ServerURL).CalendarStatus()
		if err != nil {
			return err
		}
		if connected {
			fmt.Println("Google Calendar: connected")
		} else {
			fmt.Println("Google Calendar: not connected")
		}
		return nil
	},
}

var calendarConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Print the URL that starts the Google OAuth flow",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		fmt.Println("Open this URL in your browser to connect Google Calendar:")
		fmt.Println("  " + cfg.ServerURL + "/api/calendar/connect")
		return nil
	},
}

var calendarDisconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Clear the stored calendar credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := api.NewClient(cfg.ServerURL).CalendarDisconnect(); err != nil {
			return err
		}
		fmt.Println("Google Calendar disconnected")
		return nil
	},
}

func init() {
	calendarCmd.AddCommand(calendarStatusCmd)
	calendarCmd.AddCommand(calendarConnectCmd)
	calendarCmd.AddCommand(calendarDisconnectCmd)
}
