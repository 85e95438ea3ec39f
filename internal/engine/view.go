package engine

import (
	"time"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/filter"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/project"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/reading"
)

// View is one consistent snapshot of everything presentation needs. All
// projections in a View derive from the same store version and criteria.
// Views are immutable once published.
type View struct {
	// Filtered is the canonical set narrowed by Criteria, in store order.
	Filtered []reading.Reading
	Series   project.Series
	Rows     []project.Row
	Export   []project.ExportRow

	Criteria    filter.Criteria
	Highlighted map[int64]bool
	// Total is the size of the unfiltered canonical set.
	Total      int
	LastUpdate time.Time

	Loading   bool
	Error     string
	Connected bool

	ComputeTime time.Duration
	// Version increases with every published view.
	Version uint64
}

// IsHighlighted reports whether the sensor was marked new when the view was
// computed.
func (v *View) IsHighlighted(sensorID int64) bool {
	return v.Highlighted[sensorID]
}
