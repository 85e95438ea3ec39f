package main

import (
	"log/slog"
	"testing"
	"time"

	tui "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/chart"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/filter"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/reading"
)

func newTestModel(t *testing.T) (*model, *pipeline) {
	t.Helper()
	withConfig(t)
	require.NoError(t, validateAndNormalizeConfig())
	config.ChartDebounce = 0

	logger := slog.New(slog.DiscardHandler)
	p := newPipeline(logger, nil)
	t.Cleanup(p.close)
	charts := chart.New(chart.Options{Logger: logger})
	t.Cleanup(charts.Dispose)
	return newModel(p, charts, logger), p
}

func runeKey(r rune) tui.KeyMsg { return tui.KeyMsg{Type: tui.KeyRunes, Runes: []rune{r}} }

func sample(id int64, sec int) reading.Reading {
	return reading.Reading{
		SensorID:    id,
		Timestamp:   time.Date(2024, 3, 1, 12, 0, sec, 0, time.Local),
		Temperature: 21.5,
		Humidity:    40,
	}
}

func TestModelResizeAttachesCharts(t *testing.T) {
	m, _ := newTestModel(t)
	assert.Equal(t, chart.Uninitialized, m.charts.State())

	m.Update(tui.WindowSizeMsg{Width: 120, Height: 40})
	assert.Equal(t, chart.Ready, m.charts.State())
	assert.Len(t, m.surfaces, len(chart.Kinds))
	assert.Equal(t, 1, m.charts.Renders())

	old := m.surfaces[0]
	m.Update(tui.WindowSizeMsg{Width: 100, Height: 30})
	assert.ErrorIs(t, old.Render(chart.Config{}), chart.ErrDisposed)
}

func TestModelViewSyncsTableAndCharts(t *testing.T) {
	m, p := newTestModel(t)
	m.Update(tui.WindowSizeMsg{Width: 120, Height: 40})

	require.True(t, p.engine.Admit(sample(7, 0)))
	m.Update(viewMsg{p.engine.Snapshot()})

	rows := m.table.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, newMarker, rows[0][0])
	assert.Equal(t, "7", rows[0][1])
	assert.Equal(t, "2024-03-01 12:00:00", rows[0][2])
	assert.Equal(t, "21.5", rows[0][3])
	assert.Equal(t, 2, m.charts.Renders())
}

func TestModelIgnoresOlderView(t *testing.T) {
	m, p := newTestModel(t)
	older := p.engine.Snapshot()
	p.engine.Admit(sample(1, 0))
	newer := p.engine.Snapshot()

	m.Update(viewMsg{newer})
	m.Update(viewMsg{older})
	assert.Same(t, newer, m.view)
}

func TestModelFilterForm(t *testing.T) {
	m, p := newTestModel(t)

	m.Update(runeKey('f'))
	require.True(t, m.form.open)

	m.form.inputs[fieldStartDate].SetValue("2024-03-01")
	m.form.inputs[fieldEndDate].SetValue("2024-03-02")
	m.Update(tui.KeyMsg{Type: tui.KeyEnter})

	assert.False(t, m.form.open)
	assert.Equal(t, filter.Criteria{StartDate: "2024-03-01", EndDate: "2024-03-02"}, p.engine.Criteria())
}

func TestModelFilterFormRejectsInvalidCriteria(t *testing.T) {
	m, p := newTestModel(t)

	m.Update(runeKey('f'))
	m.form.inputs[fieldStartTime].SetValue("10:00")
	m.Update(tui.KeyMsg{Type: tui.KeyEnter})

	assert.True(t, m.form.open)
	assert.NotEmpty(t, m.form.err)
	assert.True(t, p.engine.Criteria().IsZero())

	m.Update(tui.KeyMsg{Type: tui.KeyEsc})
	assert.False(t, m.form.open)
}

func TestModelFilterFormTabCyclesFocus(t *testing.T) {
	m, _ := newTestModel(t)
	m.Update(runeKey('f'))
	assert.Equal(t, fieldStartDate, m.form.focus)

	m.Update(tui.KeyMsg{Type: tui.KeyTab})
	assert.Equal(t, fieldStartTime, m.form.focus)

	m.Update(tui.KeyMsg{Type: tui.KeyShiftTab})
	m.Update(tui.KeyMsg{Type: tui.KeyShiftTab})
	assert.Equal(t, fieldEndTime, m.form.focus)
}

func TestModelClearFilter(t *testing.T) {
	m, p := newTestModel(t)
	require.NoError(t, p.engine.SetFilter(filter.Criteria{StartDate: "2024-03-01"}))

	m.Update(runeKey('c'))
	assert.True(t, p.engine.Criteria().IsZero())
	assert.Equal(t, "filter cleared", m.flash)
}

func TestModelRequestWhileDisconnected(t *testing.T) {
	m, _ := newTestModel(t)

	_, cmd := m.Update(runeKey('u'))
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, requestDoneMsg{what: "latest readings", sent: false}, msg)

	m.Update(msg)
	assert.True(t, m.flashErr)
}

func TestModelExport(t *testing.T) {
	m, p := newTestModel(t)
	config.ExportDir = t.TempDir()
	p.engine.Admit(sample(3, 0))
	m.Update(viewMsg{p.engine.Snapshot()})

	_, cmd := m.Update(runeKey('e'))
	require.NotNil(t, cmd)
	msg, ok := cmd().(exportDoneMsg)
	require.True(t, ok)
	require.NoError(t, msg.err)
	assert.Len(t, msg.paths, 2)
	assert.Equal(t, 1, msg.rows)
}

func TestModelViewRenders(t *testing.T) {
	m, _ := newTestModel(t)
	m.Update(tui.WindowSizeMsg{Width: 120, Height: 40})

	out := m.View()
	assert.Contains(t, out, "CLIMATE SENSORS")
	assert.Contains(t, out, "offline")
	assert.Contains(t, out, "Temperature Over Time")
	assert.Contains(t, out, "PIPELINE STATS")
}

func TestComputePaneWidths(t *testing.T) {
	cases := []struct {
		total, split, left, right int
	}{
		{100, 50, 50, 50},
		{100, 20, 20, 80},
		{60, 10, 18, 42},
		{20, 50, 10, 10},
		{1, 50, 1, 1},
	}
	for _, c := range cases {
		l, r := computePaneWidths(c.total, c.split)
		assert.Equal(t, c.left, l, "total=%d split=%d", c.total, c.split)
		assert.Equal(t, c.right, r, "total=%d split=%d", c.total, c.split)
	}
}
