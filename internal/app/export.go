package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"mandi-alerts/internal/rules"
)

const defaultExportWindow = 24 * time.Hour

// Export renders the firing history as CSV and/or a PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	firings, closeStore, err := a.openFiringLog(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	events, err := firings.ListFiringsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		a.Logger.Info().Msg("no firings found for export window")
		return nil
	}

	downsampled := downsampleFirings(events, opts.MaxPoints)
	a.Logger.Info().Int("total", len(events)).Int("exported", len(downsampled)).Msg("exporting firings")

	if opts.CSVPath != "" {
		if err := writeFiringsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeFiringsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleFirings(events []rules.FiredEvent, max int) []rules.FiredEvent {
	if max <= 0 || len(events) <= max {
		return events
	}

	result := make([]rules.FiredEvent, 0, max)
	step := float64(len(events)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(events) {
			idx = len(events) - 1
		}
		result = append(result, events[idx])
	}
	return result
}

func writeFiringsCSV(path string, events []rules.FiredEvent) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"fired_at", "event_id", "rule_id", "owner_id", "subject_kind", "subject_key", "value", "operator", "threshold"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, ev := range events {
		record := []string{
			ev.FiredAt.Format(time.RFC3339),
			ev.ID,
			ev.RuleID,
			ev.OwnerID,
			string(ev.SubjectKind),
			ev.SubjectKey,
			formatValue(ev.Value),
			string(ev.Operator),
			formatValue(ev.Threshold),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeFiringsPNG(path string, events []rules.FiredEvent) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(events))
	values := make([]float64, len(events))
	thresholds := make([]float64, len(events))

	for i, ev := range events {
		x[i] = ev.FiredAt
		values[i] = ev.Value
		thresholds[i] = ev.Threshold
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Observed value",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Value",
				XValues: x,
				YValues: values,
			},
			chart.TimeSeries{
				Name:    "Threshold",
				XValues: x,
				YValues: thresholds,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
