package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mandi-alerts/internal/rules"
)

// RenderMessage formats a fired event as the notification text sent to every
// channel. Prices are rendered fixed-point so SMS readers see stable widths.
func RenderMessage(ev rules.FiredEvent) string {
	value := decimal.NewFromFloat(ev.Value)
	threshold := decimal.NewFromFloat(ev.Threshold)

	builder := strings.Builder{}
	builder.WriteString("[MandiSense Alert]\n")
	switch ev.SubjectKind {
	case rules.SubjectPrice:
		builder.WriteString(fmt.Sprintf("Commodity: %s\n", ev.SubjectKey))
		builder.WriteString(fmt.Sprintf("Price: %s (alert when %s %s)\n", value.StringFixed(2), string(ev.Operator), threshold.StringFixed(2)))
	case rules.SubjectSensor:
		builder.WriteString(fmt.Sprintf("Sensor: %s\n", ev.SubjectKey))
		builder.WriteString(fmt.Sprintf("Reading: %s (alert when %s %s)\n", value.StringFixed(2), string(ev.Operator), threshold.StringFixed(2)))
	default:
		builder.WriteString(fmt.Sprintf("Subject: %s\n", ev.SubjectKey))
		builder.WriteString(fmt.Sprintf("Value: %s (alert when %s %s)\n", value.StringFixed(2), string(ev.Operator), threshold.StringFixed(2)))
	}
	builder.WriteString(fmt.Sprintf("Direction: %s\n", direction(ev)))
	builder.WriteString(fmt.Sprintf("Observed: %s UTC\n", ev.FiredAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

func direction(ev rules.FiredEvent) string {
	switch ev.Operator {
	case rules.OpGreater, rules.OpGreaterEqual:
		return "above"
	case rules.OpLess, rules.OpLessEqual:
		return "below"
	default:
		return "at"
	}
}
