// Package export writes projected export rows as CSV or JSON files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/project"
)

type Format string

const (
	CSV  Format = "csv"
	JSON Format = "json"
)

var ErrUnknownFormat = errors.New("export: unknown format")

var header = []string{"Sensor ID", "Date Time", "Temperature (°C)", "Humidity (%)"}

// ParseFormat accepts "csv" or "json".
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case CSV, JSON:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// WriteCSV writes a header line and one record per row. Timestamps contain a
// comma and are therefore always quoted; numbers use their shortest form.
func WriteCSV(w io.Writer, rows []project.ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			strconv.FormatInt(r.SensorID, 10),
			r.Timestamp,
			strconv.FormatFloat(r.Temperature, 'f', -1, 64),
			strconv.FormatFloat(r.Humidity, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteJSON(w io.Writer, rows []project.ExportRow) error {
	if rows == nil {
		rows = []project.ExportRow{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// FileName is the default export name for a snapshot taken at t.
func FileName(t time.Time, f Format) string {
	return "climate-sensor-data-" + t.Format("20060102-150405") + "." + string(f)
}

// WriteFile writes rows to path in format f, creating parent directories.
func WriteFile(path string, f Format, rows []project.ExportRow) (err error) {
	write, err := writer(f)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close export file: %w", cerr)
		}
	}()
	if err := write(file, rows); err != nil {
		return fmt.Errorf("write %s export: %w", f, err)
	}
	return nil
}

// WriteFiles writes one file per format into dir, all sharing the name
// derived from t, and returns their paths in format order.
func WriteFiles(dir string, t time.Time, rows []project.ExportRow, formats ...Format) ([]string, error) {
	if len(formats) == 0 {
		formats = []Format{CSV}
	}
	paths := make([]string, 0, len(formats))
	for _, f := range formats {
		path := filepath.Join(dir, FileName(t, f))
		if err := WriteFile(path, f, rows); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writer(f Format) (func(io.Writer, []project.ExportRow) error, error) {
	switch f {
	case CSV:
		return WriteCSV, nil
	case JSON:
		return WriteJSON, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
}
