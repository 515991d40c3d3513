package cli

import (
	"errors"
	"math"
	"time"

	"github.com/spf13/cobra"

	"mandi-alerts/internal/rules"
)

var (
	simulateKind  string
	simulateKey   string
	simulateValue float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-tick",
	Short: "Feed one data point through the engine and dispatch path",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateKey == "" {
			return errors.New("--subject is required")
		}
		if math.IsNaN(simulateValue) || math.IsInf(simulateValue, 0) {
			return errors.New("--value must be a finite number")
		}

		dp := rules.DataPoint{
			SubjectKind: rules.SubjectKind(simulateKind),
			SubjectKey:  simulateKey,
			Value:       simulateValue,
			Timestamp:   time.Now().UTC(),
		}
		return getApp().SimulateTick(cmd.Context(), dp)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateKind, "kind", string(rules.SubjectPrice), "Subject kind (price or sensor)")
	simulateCmd.Flags().StringVar(&simulateKey, "subject", "", "Subject key, e.g. a commodity name or device/metric")
	simulateCmd.Flags().Float64Var(&simulateValue, "value", 0, "Observed value to evaluate")
}
