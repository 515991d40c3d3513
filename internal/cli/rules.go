package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"mandi-alerts/internal/app"
)

var rulesOwner string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Display the alert rules of one owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rulesOwner == "" {
			return errors.New("--owner is required")
		}

		opts := app.ShowRulesOptions{
			OwnerID: rulesOwner,
		}

		return getApp().ShowRules(cmd.Context(), opts)
	},
}

func init() {
	rulesCmd.Flags().StringVar(&rulesOwner, "owner", "", "Owner whose rules to display")
}
