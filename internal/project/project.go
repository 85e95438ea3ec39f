// Package project derives the presentations consumers need from a filtered
// reading set. Every function is pure and leaves its input untouched.
package project

import (
	"slices"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/reading"
)

// Series holds three parallel arrays in ascending timestamp order.
type Series struct {
	Labels      []string
	Temperature []float64
	Humidity    []float64
}

func (s Series) Len() int { return len(s.Labels) }

// Equal reports whether both series hold the same points.
func (s Series) Equal(o Series) bool {
	return slices.Equal(s.Labels, o.Labels) &&
		slices.Equal(s.Temperature, o.Temperature) &&
		slices.Equal(s.Humidity, o.Humidity)
}

// Row is a table row: a reading in store order and whether it is new.
type Row struct {
	reading.Reading
	New bool
}

// ExportRow is one flattened line of an export.
type ExportRow struct {
	SensorID    int64   `json:"sensorId"`
	Timestamp   string  `json:"dateTime"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// SortByTime returns a copy of rs sorted ascending by timestamp. Readings
// sharing a timestamp keep their relative order.
func SortByTime(rs []reading.Reading) []reading.Reading {
	out := slices.Clone(rs)
	slices.SortStableFunc(out, func(a, b reading.Reading) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}

func ChartSeries(rs []reading.Reading) Series {
	sorted := SortByTime(rs)
	s := Series{
		Labels:      make([]string, len(sorted)),
		Temperature: make([]float64, len(sorted)),
		Humidity:    make([]float64, len(sorted)),
	}
	for i, r := range sorted {
		s.Labels[i] = reading.ChartLabel(r.Timestamp)
		s.Temperature[i] = r.Temperature
		s.Humidity[i] = r.Humidity
	}
	return s
}

// Rows annotates rs, in its given order, with the highlight state.
func Rows(rs []reading.Reading, isNew func(sensorID int64) bool) []Row {
	out := make([]Row, len(rs))
	for i, r := range rs {
		out[i] = Row{Reading: r, New: isNew != nil && isNew(r.SensorID)}
	}
	return out
}

func ExportRows(rs []reading.Reading) []ExportRow {
	sorted := SortByTime(rs)
	out := make([]ExportRow, len(sorted))
	for i, r := range sorted {
		out[i] = ExportRow{
			SensorID:    r.SensorID,
			Timestamp:   reading.ExportTimestamp(r.Timestamp),
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
		}
	}
	return out
}
