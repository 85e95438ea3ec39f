package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tui "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/term"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/chart"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/engine"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/push"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/query"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/reading"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/store"
)

type Config struct {
	// query
	APIURL       string        `yaml:"api_url"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	LatestN      int           `yaml:"latest_n"`
	LoadOnStart  bool          `yaml:"load_on_start"`

	// push
	PushProtocol string        `yaml:"push_protocol"`
	PushURL      string        `yaml:"push_url"`
	Topic        string        `yaml:"topic"`
	RequestDest  string        `yaml:"request_destination"`
	HistoryDest  string        `yaml:"history_destination"`
	HeartBeat    time.Duration `yaml:"heartbeat"`
	MinBackoff   time.Duration `yaml:"min_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
	AutoConnect  bool          `yaml:"auto_connect"`

	// store
	Capacity     int           `yaml:"capacity"`
	HighlightTTL time.Duration `yaml:"highlight_ttl"`

	// render
	ChartDebounce time.Duration `yaml:"chart_debounce"`
	PlotFPS       int           `yaml:"plot_fps"`
	ViewSplit     int           `yaml:"view_split"`
	AltScreen     bool          `yaml:"alt_screen"`
	StatsEnabled  bool          `yaml:"stats"`
	StatsWindow   int           `yaml:"stats_window"`

	// sensor activity sketch
	K           int           `yaml:"activity_k"`
	Width       int           `yaml:"activity_width"`
	Depth       int           `yaml:"activity_depth"`
	Decay       float64       `yaml:"activity_decay"`
	TickSize    time.Duration `yaml:"activity_tick"`
	WindowSize  time.Duration `yaml:"activity_window"`
	FullRefresh time.Duration `yaml:"activity_full_refresh"`
	PartialSize int           `yaml:"activity_partial_size"`

	ExportDir string `yaml:"export_dir"`
	LogFile   string `yaml:"log_file"`
	LogLevel  string `yaml:"log_level"`
	Headless  bool   `yaml:"headless"`
}

var config = Config{
	APIURL:       query.DefaultBaseURL,
	QueryTimeout: query.DefaultTimeout,
	LatestN:      10,
	LoadOnStart:  true,

	PushProtocol: "stomp",
	HeartBeat:    push.DefaultStompHeartBeat,
	MinBackoff:   push.DefaultMinBackoff,
	MaxBackoff:   push.DefaultMaxBackoff,
	AutoConnect:  true,

	Capacity:     store.DefaultCapacity,
	HighlightTTL: store.DefaultHighlightTTL,

	ChartDebounce: 100 * time.Millisecond,
	PlotFPS:       10,
	ViewSplit:     50,
	AltScreen:     true,
	StatsEnabled:  true,
	StatsWindow:   256,

	K:           10,
	Width:       1024,
	Depth:       3,
	Decay:       0.9,
	TickSize:    time.Second,
	WindowSize:  time.Minute,
	FullRefresh: 2 * time.Second,
	PartialSize: 0,

	ExportDir: ".",
	LogFile:   "climate-tui.log",
	LogLevel:  "info",
}

func main() {
	log.SetOutput(os.Stderr)
	if err := loadConfig(os.LookupEnv); err != nil {
		log.Fatal(err)
	}

	flag.StringVar(&config.APIURL, "api", config.APIURL, "Sensor REST API base URL")
	flag.DurationVar(&config.QueryTimeout, "query-timeout", config.QueryTimeout, "Timeout of one query")
	flag.IntVar(&config.LatestN, "latest", config.LatestN, "Number of readings fetched by 'load latest'")
	flag.BoolVar(&config.LoadOnStart, "load", config.LoadOnStart, "Load all readings on start")
	flag.StringVar(&config.PushProtocol, "push", config.PushProtocol, "Push transport: stomp or mqtt")
	flag.StringVar(&config.PushURL, "push-url", config.PushURL, "Push endpoint (ws:// URL for stomp, tcp://host:port for mqtt)")
	flag.StringVar(&config.Topic, "topic", config.Topic, "Push topic carrying readings (default depends on -push)")
	flag.StringVar(&config.RequestDest, "request-dest", config.RequestDest, "Destination of request-latest messages")
	flag.StringVar(&config.HistoryDest, "history-dest", config.HistoryDest, "Destination of request-history messages")
	flag.DurationVar(&config.HeartBeat, "heartbeat", config.HeartBeat, "STOMP heart-beat interval")
	flag.DurationVar(&config.MinBackoff, "min-backoff", config.MinBackoff, "First reconnect delay")
	flag.DurationVar(&config.MaxBackoff, "max-backoff", config.MaxBackoff, "Maximum reconnect delay")
	flag.BoolVar(&config.AutoConnect, "connect", config.AutoConnect, "Connect the push channel on start")
	flag.IntVar(&config.Capacity, "capacity", config.Capacity, "Maximum number of retained readings")
	flag.DurationVar(&config.HighlightTTL, "highlight", config.HighlightTTL, "How long pushed readings stay marked as new")
	flag.DurationVar(&config.ChartDebounce, "chart-debounce", config.ChartDebounce, "Coalesce chart updates within this delay (0 = immediate)")
	flag.IntVar(&config.PlotFPS, "plot-fps", config.PlotFPS, "Chart refresh rate (frames per second)")
	flag.IntVar(&config.ViewSplit, "view-split", config.ViewSplit, "Split the view at this % of the total screen width [20,80]")
	flag.BoolVar(&config.AltScreen, "alt-screen", config.AltScreen, "Use the terminal alternate screen buffer (recommended inside IDE terminals)")
	flag.BoolVar(&config.StatsEnabled, "stats", config.StatsEnabled, "Show pipeline stats")
	flag.IntVar(&config.StatsWindow, "stats-window", config.StatsWindow, "Number of recent samples kept per metric")
	flag.IntVar(&config.K, "k", config.K, "Track the K most active sensors")
	flag.IntVar(&config.Width, "width", config.Width, "Activity sketch width")
	flag.IntVar(&config.Depth, "depth", config.Depth, "Activity sketch depth")
	flag.Float64Var(&config.Decay, "decay", config.Decay, "Activity sketch counter decay probability on collisions")
	flag.DurationVar(&config.WindowSize, "window", config.WindowSize, "Activity window size")
	flag.DurationVar(&config.TickSize, "tick", config.TickSize, "Activity window tick size (time bucket precision)")
	flag.DurationVar(&config.FullRefresh, "full-refresh", config.FullRefresh, "How often to do a full activity refresh (0 = always)")
	flag.IntVar(&config.PartialSize, "partial-size", config.PartialSize, "How many activity entries to refresh per tick (0 = all)")
	flag.StringVar(&config.ExportDir, "export-dir", config.ExportDir, "Directory for exported files")
	flag.StringVar(&config.LogFile, "log-file", config.LogFile, "Log file used while the dashboard owns the terminal")
	flag.StringVar(&config.LogLevel, "log-level", config.LogLevel, "Log level: debug, info, warn or error")
	flag.BoolVar(&config.Headless, "headless", config.Headless, "Print admitted readings instead of running the dashboard")

	flag.Parse()

	if err := validateAndNormalizeConfig(); err != nil {
		log.Fatal(err)
	}

	headless := config.Headless || !term.IsTerminal(os.Stdout.Fd())

	logger, closeLog, err := newLogger(headless)
	if err != nil {
		log.Fatal(err)
	}
	defer closeLog()

	if headless {
		if err := runHeadless(logger); err != nil {
			logger.Error("headless run failed", slog.String("error", err.Error()))
			closeLog()
			os.Exit(1)
		}
		return
	}
	if err := runDashboard(logger); err != nil {
		closeLog()
		log.Fatal(err)
	}
}

func validateAndNormalizeConfig() error {
	if config.APIURL == "" {
		return fmt.Errorf("-api must not be empty")
	}
	if config.QueryTimeout <= 0 {
		return fmt.Errorf("-query-timeout must be > 0")
	}
	if config.LatestN < 1 {
		return fmt.Errorf("-latest must be >= 1")
	}
	switch config.PushProtocol {
	case "stomp":
		config.PushURL = orDefault(config.PushURL, push.DefaultStompURL)
		config.Topic = orDefault(config.Topic, push.DefaultStompTopic)
		config.RequestDest = orDefault(config.RequestDest, push.DefaultStompRequest)
		config.HistoryDest = orDefault(config.HistoryDest, push.DefaultStompHistory)
	case "mqtt":
		config.PushURL = orDefault(config.PushURL, push.DefaultMQTTAddress)
		config.Topic = orDefault(config.Topic, push.DefaultMQTTTopic)
		config.RequestDest = orDefault(config.RequestDest, push.DefaultMQTTRequest)
		config.HistoryDest = orDefault(config.HistoryDest, push.DefaultMQTTHistory)
	default:
		return fmt.Errorf("-push must be stomp or mqtt (got %q)", config.PushProtocol)
	}
	if config.HeartBeat < 0 {
		return fmt.Errorf("-heartbeat must be >= 0")
	}
	if config.MinBackoff <= 0 {
		return fmt.Errorf("-min-backoff must be > 0")
	}
	if config.MaxBackoff < config.MinBackoff {
		return fmt.Errorf("-max-backoff must be >= -min-backoff")
	}
	if config.Capacity < 1 {
		return fmt.Errorf("-capacity must be >= 1")
	}
	if config.HighlightTTL <= 0 {
		return fmt.Errorf("-highlight must be > 0")
	}
	if config.ChartDebounce < 0 {
		return fmt.Errorf("-chart-debounce must be >= 0")
	}
	if config.PlotFPS < 1 {
		return fmt.Errorf("-plot-fps must be >= 1")
	}
	if config.K < 1 {
		return fmt.Errorf("-k must be >= 1")
	}
	if config.Width < 1 {
		return fmt.Errorf("-width must be >= 1")
	}
	if config.Depth < 1 {
		return fmt.Errorf("-depth must be >= 1")
	}
	if config.Decay < 0 || config.Decay > 1 {
		return fmt.Errorf("-decay must be in [0,1]")
	}
	if config.TickSize <= 0 {
		return fmt.Errorf("-tick must be > 0")
	}
	if config.WindowSize < config.TickSize {
		return fmt.Errorf("-window must be >= -tick")
	}
	if config.WindowSize%config.TickSize != 0 {
		return fmt.Errorf("-window must be a multiple of -tick (got window=%s tick=%s)", config.WindowSize, config.TickSize)
	}
	if config.FullRefresh < 0 {
		return fmt.Errorf("-full-refresh must be >= 0")
	}
	if config.PartialSize < 0 {
		return fmt.Errorf("-partial-size must be >= 0")
	}
	if _, err := parseLevel(config.LogLevel); err != nil {
		return fmt.Errorf("-log-level: %w", err)
	}

	config.ViewSplit = min(80, max(20, config.ViewSplit))
	config.StatsWindow = max(16, config.StatsWindow)
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// pipeline is the wired core shared by both front ends.
type pipeline struct {
	engine   *engine.Engine
	push     *push.Manager
	activity *activityTracker
	metrics  *pipelineMetrics
}

func newPipeline(logger *slog.Logger, onAdmit func(reading.Reading)) *pipeline {
	p := &pipeline{
		activity: newActivityTracker(),
		metrics:  newPipelineMetrics(config.StatsWindow),
	}
	p.metrics.setEnabled(config.StatsEnabled)

	var dialer push.Dialer
	switch config.PushProtocol {
	case "mqtt":
		dialer = &push.MQTTDialer{Address: config.PushURL, Logger: logger}
	default:
		dialer = &push.StompDialer{URL: config.PushURL, HeartBeat: config.HeartBeat, Logger: logger}
	}

	p.push = push.NewManager(push.Options{
		Dialer:             dialer,
		Topic:              config.Topic,
		RequestDestination: config.RequestDest,
		HistoryDestination: config.HistoryDest,
		MinBackoff:         config.MinBackoff,
		MaxBackoff:         config.MaxBackoff,
		OnReading: func(r reading.Reading) {
			p.metrics.observePush(time.Now())
			p.engine.Admit(r)
		},
		Logger: logger.With(slog.String("component", "push")),
	})

	p.engine = engine.New(engine.Options{
		Store: store.Options{
			Capacity:     config.Capacity,
			HighlightTTL: config.HighlightTTL,
		},
		Fetcher: query.New(query.Options{
			BaseURL: config.APIURL,
			Timeout: config.QueryTimeout,
			Logger:  logger.With(slog.String("component", "query")),
		}),
		Push: p.push,
		OnAdmit: func(r reading.Reading) {
			p.activity.observe(r.SensorID)
			if onAdmit != nil {
				onAdmit(r)
			}
		},
		Logger: logger.With(slog.String("component", "engine")),
	})
	p.engine.Subscribe(func(v *engine.View) { p.metrics.observeView(v.ComputeTime) })
	return p
}

func (p *pipeline) close() {
	p.push.Disconnect()
	p.engine.Close()
}

func runDashboard(logger *slog.Logger) error {
	p := newPipeline(logger, nil)
	defer p.close()

	charts := chart.New(chart.Options{
		Debounce: config.ChartDebounce,
		Logger:   logger.With(slog.String("component", "chart")),
	})
	defer charts.Dispose()

	m := newModel(p, charts, logger.With(slog.String("component", "tui")))
	opts := []tui.ProgramOption{tui.WithInputTTY()}
	if config.AltScreen {
		opts = append(opts, tui.WithAltScreen())
	}
	program := tui.NewProgram(m, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pump := newViewPump(p.engine)
	defer pump.close()
	go pump.run(ctx, program.Send)

	if config.AutoConnect {
		p.push.Connect()
	}
	_, err := program.Run()
	return err
}

func runHeadless(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := newPipeline(logger, func(r reading.Reading) {
		fmt.Fprintln(os.Stdout, r.String())
	})
	defer p.close()

	if config.LoadOnStart {
		lctx, cancel := context.WithTimeout(ctx, config.QueryTimeout)
		err := p.engine.Load(lctx)
		cancel()
		if err != nil {
			logger.Warn("initial load failed", slog.String("error", err.Error()))
		} else {
			for _, r := range p.engine.CurrentFilteredReadings() {
				fmt.Fprintln(os.Stdout, r.String())
			}
		}
	}

	p.push.Connect()
	logger.Info("listening for readings", slog.String("push", config.PushProtocol), slog.String("url", config.PushURL))
	<-ctx.Done()
	return nil
}
