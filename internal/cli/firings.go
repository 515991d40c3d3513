package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mandi-alerts/internal/app"
)

var firingsLimit int

var firingsCmd = &cobra.Command{
	Use:   "firings",
	Short: "Display recent rule firings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if firingsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowFiringsOptions{
			Limit: firingsLimit,
		}

		return getApp().ShowFirings(cmd.Context(), opts)
	},
}

func init() {
	firingsCmd.Flags().IntVar(&firingsLimit, "limit", 20, "Number of firings to display")
}
