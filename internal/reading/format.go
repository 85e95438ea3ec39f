package reading

import "time"

const (
	chartLabelLayout = "Jan 2, 03:04 PM"
	exportLayout     = "1/2/2006, 3:04:05 PM"
	clockLayout      = "15:04:05"
)

// ChartLabel renders a timestamp as an x-axis label.
func ChartLabel(t time.Time) string { return t.Format(chartLabelLayout) }

// ExportTimestamp renders a timestamp for the CSV and JSON exports.
func ExportTimestamp(t time.Time) string { return t.Format(exportLayout) }

// LastUpdate renders the last push admission time, or "Never".
func LastUpdate(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Format(clockLayout)
}
