package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"gopkg.in/yaml.v3"
)

// loadConfig layers .env, the optional YAML file named by CLIMATE_CONFIG and
// CLIMATE_* variables over the defaults. Flags are applied afterwards.
func loadConfig(lookup func(string) (string, bool)) error {
	_ = godotenv.Load(".env")

	if path, ok := lookup("CLIMATE_CONFIG"); ok && strings.TrimSpace(path) != "" {
		if err := loadConfigFile(strings.TrimSpace(path)); err != nil {
			return err
		}
	}
	return applyEnv(lookup)
}

func loadConfigFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &config); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

type envVar struct {
	name string
	set  func(string) error
}

func envVars() []envVar {
	return []envVar{
		{"CLIMATE_API_URL", setString(&config.APIURL)},
		{"CLIMATE_QUERY_TIMEOUT", setDuration(&config.QueryTimeout)},
		{"CLIMATE_LATEST_N", setInt(&config.LatestN)},
		{"CLIMATE_PUSH_PROTOCOL", setString(&config.PushProtocol)},
		{"CLIMATE_PUSH_URL", setString(&config.PushURL)},
		{"CLIMATE_PUSH_TOPIC", setString(&config.Topic)},
		{"CLIMATE_REQUEST_DESTINATION", setString(&config.RequestDest)},
		{"CLIMATE_HISTORY_DESTINATION", setString(&config.HistoryDest)},
		{"CLIMATE_HEARTBEAT", setDuration(&config.HeartBeat)},
		{"CLIMATE_MIN_BACKOFF", setDuration(&config.MinBackoff)},
		{"CLIMATE_MAX_BACKOFF", setDuration(&config.MaxBackoff)},
		{"CLIMATE_CAPACITY", setInt(&config.Capacity)},
		{"CLIMATE_HIGHLIGHT_TTL", setDuration(&config.HighlightTTL)},
		{"CLIMATE_CHART_DEBOUNCE", setDuration(&config.ChartDebounce)},
		{"CLIMATE_EXPORT_DIR", setString(&config.ExportDir)},
		{"CLIMATE_LOG_FILE", setString(&config.LogFile)},
		{"CLIMATE_LOG_LEVEL", setString(&config.LogLevel)},
		{"CLIMATE_STATS", setBool(&config.StatsEnabled)},
		{"CLIMATE_ALT_SCREEN", setBool(&config.AltScreen)},
		{"CLIMATE_HEADLESS", setBool(&config.Headless)},
	}
}

func applyEnv(lookup func(string) (string, bool)) error {
	for _, v := range envVars() {
		raw, ok := lookup(v.name)
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			continue
		}
		if err := v.set(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", v.name, err)
		}
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(s string) error {
		*dst = s
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(s string) error {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func setDuration(dst *time.Duration) func(string) error {
	return func(s string) error {
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}

// newLogger logs to stderr in headless mode and to the log file otherwise,
// since the dashboard owns the terminal. The returned close func may be
// called more than once.
func newLogger(headless bool) (*slog.Logger, func(), error) {
	level, err := parseLevel(config.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	noColor := false
	if !headless {
		f, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		var once sync.Once
		closeFn = func() { once.Do(func() { _ = f.Close() }) }
		noColor = true
	}

	logger := slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
	}))
	slog.SetDefault(logger)
	return logger, closeFn, nil
}
