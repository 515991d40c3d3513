package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// ShowRules prints the rules belonging to one owner.
func (a *App) ShowRules(ctx context.Context, opts ShowRulesOptions) error {
	st, closeStore, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	list, err := st.rules.ListByOwner(ctx, opts.OwnerID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(os.Stdout, "no rules found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSubject\tCondition\tActive\tCooldown\tFired\tLast Fired (UTC)")

	for _, r := range list {
		lastFired := "-"
		if r.LastFiredAt != nil {
			lastFired = r.LastFiredAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s/%s\t%s %s\t%t\t%s\t%d\t%s\n",
			r.ID,
			r.SubjectKind,
			r.SubjectKey,
			r.Condition.Operator,
			formatValue(r.Condition.Threshold),
			r.Active,
			r.Cooldown,
			r.FiredCount,
			lastFired,
		)
	}

	writer.Flush()
	return nil
}

// ShowFirings prints recent firing events, most recent first.
func (a *App) ShowFirings(ctx context.Context, opts ShowFiringsOptions) error {
	firings, closeStore, err := a.openFiringLog(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	events, err := firings.ListRecentFirings(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no firings found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fired (UTC)\tEvent\tRule\tOwner\tSubject\tValue\tCondition")

	for _, ev := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s/%s\t%s\t%s %s\n",
			ev.FiredAt.UTC().Format(time.RFC3339),
			ev.ID,
			ev.RuleID,
			sanitizeInline(ev.OwnerID),
			ev.SubjectKind,
			ev.SubjectKey,
			formatValue(ev.Value),
			ev.Operator,
			formatValue(ev.Threshold),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatValue(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
