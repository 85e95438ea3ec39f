// Package reading defines the climate sensor observation shared by every
// layer of the client, and its wire encoding.
package reading

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

// ErrMissingTimestamp is returned when a payload has no sensorDateTime.
var ErrMissingTimestamp = errors.New("reading: missing sensorDateTime")

// Layout is the zone-less form used by the backend for sensorDateTime.
const Layout = "2006-01-02T15:04:05"

// Reading is one climate sensor observation. Values are immutable once
// created; components pass them around by value.
type Reading struct {
	SensorID    int64
	Timestamp   time.Time
	Temperature float64
	Humidity    float64
}

// Identity is the deduplication key of a Reading: the sensor id and the
// timestamp at second precision.
type Identity struct {
	SensorID int64
	Unix     int64
}

func (r Reading) Identity() Identity {
	return Identity{SensorID: r.SensorID, Unix: r.Timestamp.Unix()}
}

func (r Reading) String() string {
	return fmt.Sprintf("sensor %d at %s: %.2f°C, %.2f%%",
		r.SensorID,
		r.Timestamp.Format(time.DateTime),
		r.Temperature,
		r.Humidity)
}

type wireReading struct {
	SensorID       int64   `json:"sensorId"`
	SensorDateTime string  `json:"sensorDateTime"`
	Temperature    float64 `json:"temperature"`
	Humidity       float64 `json:"humidity"`
}

func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireReading{
		SensorID:       r.SensorID,
		SensorDateTime: r.Timestamp.Format(Layout),
		Temperature:    r.Temperature,
		Humidity:       r.Humidity,
	})
}

func (r *Reading) UnmarshalJSON(b []byte) error {
	var w wireReading
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ts, err := ParseTimestamp(w.SensorDateTime, time.Local)
	if err != nil {
		return err
	}
	*r = Reading{
		SensorID:    w.SensorID,
		Timestamp:   ts,
		Temperature: w.Temperature,
		Humidity:    w.Humidity,
	}
	return nil
}

// ParseTimestamp parses an ISO 8601 timestamp. Values without a zone are
// interpreted in loc, date-only values as midnight. The result is truncated
// to whole seconds.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrMissingTimestamp
	}
	if date, clock, ok := strings.Cut(s, " "); ok {
		s = date + "T" + clock
	}
	if !strings.ContainsAny(s, "tT") {
		s += "T00:00:00"
	}
	t, err := iso8601.ParseInLocation([]byte(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading: invalid sensorDateTime %q: %w", s, err)
	}
	return t.Truncate(time.Second), nil
}

// Decode parses one push payload.
func Decode(payload []byte) (Reading, error) {
	var r Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		return Reading{}, fmt.Errorf("decode reading: %w", err)
	}
	return r, nil
}
