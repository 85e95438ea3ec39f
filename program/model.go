package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tui "github.com/charmbracelet/bubbletea"
	styles "github.com/charmbracelet/lipgloss"
	"github.com/keilerkonzept/topk/heap"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/chart"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/engine"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/export"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/reading"
)

var (
	selectedColor = styles.AdaptiveColor{Light: "0", Dark: "9"}
	borderColor   = styles.AdaptiveColor{Light: "#555", Dark: "#555"}
	errorColor    = styles.AdaptiveColor{Light: "1", Dark: "9"}
	okColor       = styles.AdaptiveColor{Light: "2", Dark: "10"}
	selectedFg    = styles.NewStyle().Foreground(selectedColor)
	borderFg      = styles.NewStyle().Foreground(borderColor)
	errorFg       = styles.NewStyle().Foreground(errorColor)
	okFg          = styles.NewStyle().Foreground(okColor)
	titleStyle    = styles.NewStyle().Bold(true)
	newMarker     = styles.NewStyle().Foreground(styles.Color(chart.TemperatureColor)).Render("●")
	plotStyle     = styles.NewStyle().
			BorderStyle(styles.NormalBorder()).
			BorderForeground(borderColor)
)

const timestampLayout = "2006-01-02 15:04:05"

type (
	loadDoneMsg struct {
		what string
		err  error
	}
	exportDoneMsg struct {
		paths []string
		rows  int
		err   error
	}
	requestDoneMsg struct {
		what string
		sent bool
	}
	connectionToggledMsg struct{ running bool }
)

type ActivityTickMsg time.Time

func doActivityTick() tui.Cmd {
	return tui.Every(time.Second, func(t time.Time) tui.Msg {
		return ActivityTickMsg(t)
	})
}

type PlotTickMsg time.Time

func doPlotTick() tui.Cmd {
	return tui.Every(time.Second/time.Duration(config.PlotFPS), func(t time.Time) tui.Msg {
		return PlotTickMsg(t)
	})
}

type model struct {
	width, height  int
	leftPaneWidth  int
	rightPaneWidth int
	dark           bool

	p        *pipeline
	charts   *chart.Adapter
	surfaces []*canvasSurface
	log      *slog.Logger

	view *engine.View

	table    table.Model
	list     list.Model
	help     help.Model
	spinner  spinner.Model
	spinning bool
	form     filterForm

	flash    string
	flashErr bool
}

func newModel(p *pipeline, charts *chart.Adapter, logger *slog.Logger) *model {
	const (
		defaultWidth  = 80
		defaultHeight = 20
	)

	d := list.NewDefaultDelegate()
	d.Styles.SelectedTitle = styles.NewStyle().
		Border(styles.NormalBorder(), false, false, false, true).
		BorderForeground(borderColor).
		Foreground(selectedColor).
		Padding(0, 0, 0, 1)
	d.Styles.SelectedDesc = d.Styles.SelectedTitle
	d.ShowDescription = true

	l := list.New(make([]list.Item, 0), d, defaultWidth/2-2, defaultHeight/2)
	l.Styles.NoItems = l.Styles.NoItems.Padding(0, 2)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)

	t := table.New(
		table.WithColumns(tableColumns(defaultWidth/2)),
		table.WithFocused(true),
		table.WithHeight(defaultHeight/2),
	)
	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(styles.NormalBorder()).
		BorderForeground(borderColor).
		BorderBottom(true).
		Bold(true)
	ts.Selected = ts.Selected.Foreground(selectedColor).Bold(false)
	t.SetStyles(ts)

	s := spinner.New()
	s.Spinner = spinner.Dot

	m := &model{
		dark:    styles.DefaultRenderer().HasDarkBackground(),
		p:       p,
		charts:  charts,
		log:     logger,
		view:    p.engine.Snapshot(),
		table:   t,
		list:    l,
		help:    help.New(),
		spinner: s,
		form:    newFilterForm(),
	}
	m.leftPaneWidth, m.rightPaneWidth = computePaneWidths(defaultWidth, config.ViewSplit)
	m.syncTable()
	return m
}

func (m *model) leftWidth() int {
	if m.leftPaneWidth > 0 {
		return m.leftPaneWidth
	}
	left, _ := computePaneWidths(m.width, config.ViewSplit)
	return left
}

func (m *model) rightWidth() int {
	if m.rightPaneWidth > 0 {
		return m.rightPaneWidth
	}
	_, right := computePaneWidths(m.width, config.ViewSplit)
	return right
}

func (m *model) Init() tui.Cmd {
	cmds := []tui.Cmd{doActivityTick(), doPlotTick()}
	if config.LoadOnStart {
		cmds = append(cmds, m.loadCmd(false))
	}
	return tui.Batch(cmds...)
}

func (m *model) Update(msg tui.Msg) (tui.Model, tui.Cmd) {
	switch msg := msg.(type) {
	case viewMsg:
		return m, m.applyView(msg.view)
	case spinner.TickMsg:
		if !m.view.Loading {
			m.spinning = false
			return m, nil
		}
		var cmd tui.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case loadDoneMsg:
		switch {
		case errors.Is(msg.err, engine.ErrStale):
		case msg.err != nil:
			m.log.Warn("load failed", slog.String("load", msg.what), slog.String("error", msg.err.Error()))
		default:
			m.setFlash(fmt.Sprintf("loaded %s", msg.what), false)
		}
		return m, nil
	case exportDoneMsg:
		if msg.err != nil {
			m.setFlash("export failed: "+msg.err.Error(), true)
			return m, nil
		}
		m.setFlash(fmt.Sprintf("exported %d rows to %s", msg.rows, strings.Join(msg.paths, ", ")), false)
		return m, nil
	case requestDoneMsg:
		if msg.sent {
			m.setFlash(msg.what+" requested", false)
		} else {
			m.setFlash("not connected: "+msg.what+" not sent", true)
		}
		return m, nil
	case connectionToggledMsg:
		if msg.running {
			m.setFlash("push channel enabled", false)
		} else {
			m.setFlash("push channel disabled", false)
		}
		return m, nil
	case ActivityTickMsg:
		m.updateActivity(time.Time(msg))
		return m, doActivityTick()
	case PlotTickMsg:
		// Chart surfaces render off the event loop; the tick repaints them.
		return m, doPlotTick()
	case tui.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	case tui.KeyMsg:
		if m.form.open {
			return m, m.updateForm(msg)
		}
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tui.Quit
		case key.Matches(msg, keys.Load):
			return m, m.loadCmd(false)
		case key.Matches(msg, keys.Latest):
			return m, m.loadCmd(true)
		case key.Matches(msg, keys.Filter):
			return m, m.form.show(m.view.Criteria)
		case key.Matches(msg, keys.Clear):
			m.p.engine.ClearFilter()
			m.setFlash("filter cleared", false)
			return m, nil
		case key.Matches(msg, keys.Export):
			return m, m.exportCmd()
		case key.Matches(msg, keys.RequestLatest):
			return m, m.requestCmd("latest readings", m.p.engine.RequestLatest)
		case key.Matches(msg, keys.RequestHistory):
			return m, m.requestCmd("history", m.p.engine.RequestHistory)
		case key.Matches(msg, keys.Connect):
			return m, m.toggleConnectionCmd()
		case key.Matches(msg, keys.Up):
			m.table.MoveUp(1)
			return m, nil
		case key.Matches(msg, keys.Down):
			m.table.MoveDown(1)
			return m, nil
		}
	}
	var cmd tui.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *model) applyView(v *engine.View) tui.Cmd {
	if v == nil || (m.view != nil && v.Version < m.view.Version) {
		return nil
	}
	m.view = v
	m.syncTable()
	m.charts.Update(v.Series)
	if v.Loading && !m.spinning {
		m.spinning = true
		return m.spinner.Tick
	}
	return nil
}

func (m *model) updateForm(msg tui.KeyMsg) tui.Cmd {
	switch {
	case key.Matches(msg, formKeys.Close):
		m.form.hide()
		return nil
	case key.Matches(msg, formKeys.Next):
		return m.form.move(1)
	case key.Matches(msg, formKeys.Prev):
		return m.form.move(-1)
	case key.Matches(msg, formKeys.Apply):
		c := m.form.criteria()
		if err := m.p.engine.SetFilter(c); err != nil {
			m.form.err = err.Error()
			return nil
		}
		m.form.hide()
		m.setFlash("filter: "+c.Normalize().String(), false)
		return nil
	}
	return m.form.update(msg)
}

func (m *model) setFlash(s string, isErr bool) {
	m.flash, m.flashErr = s, isErr
}

func (m *model) loadCmd(latest bool) tui.Cmd {
	eng := m.p.engine
	return func() tui.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), config.QueryTimeout)
		defer cancel()
		if latest {
			return loadDoneMsg{what: fmt.Sprintf("latest %d", config.LatestN), err: eng.LoadLatest(ctx, config.LatestN)}
		}
		return loadDoneMsg{what: "all readings", err: eng.Load(ctx)}
	}
}

func (m *model) exportCmd() tui.Cmd {
	eng := m.p.engine
	rows := len(m.view.Export)
	return func() tui.Msg {
		paths, err := eng.Export(config.ExportDir, export.CSV, export.JSON)
		return exportDoneMsg{paths: paths, rows: rows, err: err}
	}
}

func (m *model) requestCmd(what string, send func(context.Context) bool) tui.Cmd {
	return func() tui.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), config.QueryTimeout)
		defer cancel()
		return requestDoneMsg{what: what, sent: send(ctx)}
	}
}

func (m *model) toggleConnectionCmd() tui.Cmd {
	mgr := m.p.push
	return func() tui.Msg {
		if mgr.Running() {
			mgr.Disconnect()
			return connectionToggledMsg{running: false}
		}
		mgr.Connect()
		return connectionToggledMsg{running: true}
	}
}

func (m *model) resize(width, height int) {
	m.width, m.height = width, height
	m.leftPaneWidth, m.rightPaneWidth = computePaneWidths(m.width, config.ViewSplit)

	statsLines := 0
	if config.StatsEnabled {
		// title + 5 metric lines
		statsLines = 6
	}
	const headerLines, bannerLines, helpLines = 2, 1, 1
	available := max(6, m.height-headerLines-bannerLines-statsLines-helpLines)

	leftW := max(1, m.leftWidth())
	tableHeight := max(3, available*3/5)
	m.table.SetColumns(tableColumns(leftW))
	m.table.SetWidth(leftW)
	m.table.SetHeight(tableHeight)
	m.list.SetSize(leftW, max(1, available-tableHeight-1))
	m.form.setWidth(leftW)

	// Each chart box: border (2) + title (1) + labels (1) around the canvas.
	chartHeight := max(1, available/len(chart.Kinds)-4)
	chartWidth := max(1, m.rightWidth()-2)
	m.resizeCharts(chartWidth, chartHeight)
}

// resizeCharts replaces the chart surfaces. The adapter only becomes ready
// once every surface exists, so the current series is pushed explicitly.
func (m *model) resizeCharts(width, height int) {
	for _, s := range m.surfaces {
		s.Dispose()
	}
	m.surfaces = m.surfaces[:0]
	for _, k := range chart.Kinds {
		s := newCanvasSurface(k, width, height, m.dark)
		if err := m.charts.Attach(s); err != nil {
			m.log.Warn("attach chart surface", slog.String("chart", k.String()), slog.String("error", err.Error()))
			continue
		}
		m.surfaces = append(m.surfaces, s)
	}
	m.charts.Update(m.view.Series)
}

func tableColumns(width int) []table.Column {
	const fixed = 1 + 6 + 8 + 7
	ts := max(10, width-fixed-2*5)
	return []table.Column{
		{Title: " ", Width: 1},
		{Title: "Sensor", Width: 6},
		{Title: "Date Time", Width: min(len(timestampLayout), ts)},
		{Title: "Temp °C", Width: 8},
		{Title: "Hum %", Width: 7},
	}
}

func (m *model) syncTable() {
	rows := make([]table.Row, len(m.view.Rows))
	for i, r := range m.view.Rows {
		marker := " "
		if r.New {
			marker = newMarker
		}
		rows[i] = table.Row{
			marker,
			fmt.Sprint(r.SensorID),
			r.Timestamp.Format(timestampLayout),
			fmt.Sprintf("%.1f", r.Temperature),
			fmt.Sprintf("%.1f", r.Humidity),
		}
	}
	m.table.SetRows(rows)
}

func (m *model) updateActivity(now time.Time) {
	items := m.p.activity.leaderboard(now)

	numDecimals := 1 + int(math.Ceil(math.Log10(float64(config.K+1))))
	padToRankWidth := strings.Repeat(" ", numDecimals+1)
	rankFormat := "#%-" + fmt.Sprint(numDecimals) + "d"
	listItems := make([]list.Item, len(items))
	for i, item := range items {
		listItems[i] = listItem{
			DescriptionPrefix: padToRankWidth,
			TitlePrefix:       fmt.Sprintf(rankFormat, i+1),
			Item:              item,
		}
	}
	m.list.SetItems(listItems)
}

func (m *model) View() string {
	var left string
	if m.form.open {
		left = m.form.view()
	} else {
		activityTitle := titleStyle.Render(fmt.Sprintf("MOST ACTIVE SENSORS (last %s)", config.WindowSize))
		left = styles.JoinVertical(styles.Left, m.table.View(), activityTitle, m.list.View())
	}
	left = styles.NewStyle().Width(m.leftWidth()).Render(left)

	boxes := make([]string, 0, len(m.surfaces))
	placeholder := "no data"
	if m.charts.State() != chart.Ready {
		placeholder = "waiting for layout"
	}
	for _, s := range m.surfaces {
		boxes = append(boxes, plotStyle.Render(s.view(placeholder)))
	}
	right := styles.JoinVertical(styles.Left, boxes...)
	body := styles.JoinHorizontal(styles.Top, left, right)

	parts := []string{m.headerView(), m.bannerView(), body}
	if config.StatsEnabled {
		parts = append(parts, borderFg.Render(strings.Join(m.statsBlock(), "\n")))
	}
	parts = append(parts, m.help.View(keys))
	return styles.JoinVertical(styles.Left, parts...)
}

func (m *model) headerView() string {
	v := m.view
	conn := errorFg.Render("○ disconnected")
	if v.Connected {
		conn = okFg.Render("● connected")
	} else if !m.p.push.Running() {
		conn = borderFg.Render("○ offline")
	}
	loading := ""
	if v.Loading {
		loading = m.spinner.View() + " loading"
	}
	line1 := strings.Join([]string{
		titleStyle.Render("CLIMATE SENSORS"),
		conn,
		"last update " + reading.LastUpdate(v.LastUpdate),
		loading,
	}, "  ")
	line2 := borderFg.Render(fmt.Sprintf("%d of %d readings (cap %d) · filter: %s",
		len(v.Filtered), v.Total, m.p.engine.Capacity(), v.Criteria))
	return styles.JoinVertical(styles.Left, line1, line2)
}

func (m *model) bannerView() string {
	switch {
	case m.view.Error != "":
		return errorFg.Render(m.view.Error)
	case m.flash != "" && m.flashErr:
		return errorFg.Render(m.flash)
	default:
		return borderFg.Render(m.flash)
	}
}

func (m *model) statsBlock() []string {
	snap := m.p.metrics.snapshot()
	ps := m.p.push.Stats()
	es := m.p.engine.Stats()
	lastPush := "never"
	if !snap.lastPush.IsZero() {
		lastPush = time.Since(snap.lastPush).Truncate(time.Millisecond).String() + " ago"
	}
	return []string{
		"PIPELINE STATS",
		fmt.Sprintf("push: %d received, %d admitted, %d duplicates, %d malformed", ps.Received, es.Admitted, es.Duplicates, ps.Malformed),
		fmt.Sprintf("push rate: %.2f ev/s, last %s", snap.avgRate, lastPush),
		fmt.Sprintf("sessions: %d, reconnects: %d, stale loads: %d", ps.Sessions, ps.Reconnects, es.Stale),
		fmt.Sprintf("projection: last %s avg %s max %s",
			formatMetricDuration(snap.projection.last),
			formatMetricDuration(snap.projection.avg),
			formatMetricDuration(snap.projection.max)),
		fmt.Sprintf("views: %d (v%d), chart renders: %d", snap.views, m.view.Version, m.charts.Renders()),
	}
}

func formatMetricDuration(d time.Duration) string {
	if d <= 0 {
		return "0.000ms"
	}
	return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
}

func computePaneWidths(totalWidth int, splitPercent int) (left, right int) {
	if totalWidth <= 1 {
		return 1, 1
	}
	left = min(max(1, totalWidth*splitPercent/100), totalWidth-1)
	right = totalWidth - left

	// Keep panes readable when the terminal is wide enough.
	const minPane = 18
	if totalWidth >= minPane*2 {
		if left < minPane {
			left = minPane
			right = totalWidth - left
		}
		if right < minPane {
			right = minPane
			left = totalWidth - right
		}
	}
	return max(1, left), max(1, right)
}

type listItem struct {
	DescriptionPrefix string
	TitlePrefix       string
	heap.Item
}

func (i listItem) Title() string { return fmt.Sprintf("%s sensor %s", i.TitlePrefix, i.Item.Item) }
func (i listItem) Description() string {
	return fmt.Sprintf("%s %d readings", i.DescriptionPrefix, i.Count)
}
func (i listItem) FilterValue() string { return i.Item.Item }

type keyMap struct {
	Load           key.Binding
	Latest         key.Binding
	Filter         key.Binding
	Clear          key.Binding
	Export         key.Binding
	RequestLatest  key.Binding
	RequestHistory key.Binding
	Connect        key.Binding
	Up             key.Binding
	Down           key.Binding
	Quit           key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Load, k.Latest, k.Filter, k.Clear, k.Export, k.RequestLatest, k.RequestHistory, k.Connect, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Load, k.Latest, k.Filter, k.Clear, k.Export},
		{k.RequestLatest, k.RequestHistory, k.Connect},
		{k.Up, k.Down, k.Quit},
	}
}

var keys = keyMap{
	Load: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "load all"),
	),
	Latest: key.NewBinding(
		key.WithKeys("l"),
		key.WithHelp("l", "load latest"),
	),
	Filter: key.NewBinding(
		key.WithKeys("f", "/"),
		key.WithHelp("f", "filter"),
	),
	Clear: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear filter"),
	),
	Export: key.NewBinding(
		key.WithKeys("e"),
		key.WithHelp("e", "export"),
	),
	RequestLatest: key.NewBinding(
		key.WithKeys("u"),
		key.WithHelp("u", "request latest"),
	),
	RequestHistory: key.NewBinding(
		key.WithKeys("h"),
		key.WithHelp("h", "request history"),
	),
	Connect: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "connect/disconnect"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q/ctrl+c", "quit"),
	),
}
