package main

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	styles "github.com/charmbracelet/lipgloss"
	plot "github.com/chriskim06/drawille-go"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/chart"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/project"
)

// canvasSurface draws one chart onto a braille canvas. Render runs on the
// adapter's goroutine; view runs on the event loop.
type canvasSurface struct {
	kind          chart.Kind
	width, height int
	dark          bool

	mu       sync.Mutex
	disposed bool
	title    string
	canvas   string
	legend   string
	first    string
	last     string
}

func newCanvasSurface(kind chart.Kind, width, height int, dark bool) *canvasSurface {
	return &canvasSurface{
		kind:   kind,
		width:  max(1, width),
		height: max(1, height),
		dark:   dark,
	}
}

func (s *canvasSurface) Kind() chart.Kind { return s.kind }

func (s *canvasSurface) Render(c chart.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return chart.ErrDisposed
	}

	s.title = c.Title
	s.legend = legend(c)
	s.first, s.last = "", ""
	if n := len(c.Labels); n > 0 {
		s.first, s.last = c.Labels[0], c.Labels[n-1]
	}

	points := len(c.Labels)
	if points == 0 {
		s.canvas = ""
		return nil
	}

	data := make([][]float64, len(c.Lines))
	colors := make([]plot.Color, len(c.Lines))
	for i, l := range c.Lines {
		values := slices.Clone(l.Values)
		if len(c.Axes) > 1 {
			values = normalize(values)
		}
		// A line needs two points.
		if len(values) == 1 {
			values = append(values, values[0])
		}
		data[i] = values
		colors[i] = s.lineColor(l)
	}

	canvas := plot.NewCanvas(s.width, s.height)
	canvas.NumDataPoints = max(2, points)
	canvas.ShowAxis = false
	canvas.LineColors = colors
	canvas.Fill(data)
	s.canvas = canvas.String()
	return nil
}

func (s *canvasSurface) Dispose() {
	s.mu.Lock()
	s.disposed = true
	s.mu.Unlock()
}

func (s *canvasSurface) lineColor(l chart.Line) plot.Color {
	if l.Color == chart.TemperatureColor {
		return plot.Red
	}
	if s.dark {
		return plot.LightGray
	}
	return plot.Black
}

// normalize maps values onto [0,1] so lines on different axes share a canvas.
func normalize(values []float64) []float64 {
	if len(values) == 0 {
		return values
	}
	lo, hi := slices.Min(values), slices.Max(values)
	out := make([]float64, len(values))
	for i, v := range values {
		if hi == lo {
			out[i] = 0.5
			continue
		}
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

func legend(c chart.Config) string {
	parts := make([]string, 0, len(c.Lines))
	for _, l := range c.Lines {
		name := styles.NewStyle().Foreground(styles.Color(l.Color)).Render(l.Name)
		if len(l.Values) == 0 {
			parts = append(parts, name)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %.1f–%.1f%s (now %.1f%s)",
			name, slices.Min(l.Values), slices.Max(l.Values), l.Unit, l.Values[len(l.Values)-1], l.Unit))
	}
	return strings.Join(parts, "  ")
}

// view renders the chart box body: title, canvas and the first and last
// x-axis labels.
func (s *canvasSurface) view(placeholder string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	title := s.title
	if title == "" {
		title = chartTitle(s.kind)
	}
	body := s.canvas
	if body == "" {
		body = emptyCanvas(s.width, s.height, placeholder)
	}

	labels := ""
	if s.first != "" {
		gap := max(1, s.width-len(s.first)-len(s.last))
		labels = s.first + strings.Repeat(" ", gap) + s.last
	}
	return styles.JoinVertical(styles.Left,
		titleStyle.Render(title)+" "+s.legend,
		body,
		borderFg.Render(labels),
	)
}

func chartTitle(k chart.Kind) string {
	return chart.Configs(project.Series{})[k].Title
}

func emptyCanvas(width, height int, placeholder string) string {
	lines := make([]string, max(1, height))
	spaces := strings.Repeat(" ", max(0, width))
	for i := range lines {
		lines[i] = spaces
	}
	mid := len(lines) / 2
	if len(placeholder) <= width {
		pad := (width - len(placeholder)) / 2
		lines[mid] = strings.Repeat(" ", pad) + placeholder + strings.Repeat(" ", width-pad-len(placeholder))
	}
	return strings.Join(lines, "\n")
}
