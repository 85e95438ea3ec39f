package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/push"
)

// withConfig restores the global config after the test.
func withConfig(t *testing.T) {
	t.Helper()
	saved := config
	t.Cleanup(func() { config = saved })
}

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestValidateFillsStompDefaults(t *testing.T) {
	withConfig(t)
	config.PushProtocol = "stomp"
	config.PushURL, config.Topic, config.RequestDest, config.HistoryDest = "", "", "", ""

	require.NoError(t, validateAndNormalizeConfig())
	assert.Equal(t, push.DefaultStompURL, config.PushURL)
	assert.Equal(t, push.DefaultStompTopic, config.Topic)
	assert.Equal(t, push.DefaultStompRequest, config.RequestDest)
	assert.Equal(t, push.DefaultStompHistory, config.HistoryDest)
}

func TestValidateFillsMQTTDefaultsButKeepsOverrides(t *testing.T) {
	withConfig(t)
	config.PushProtocol = "mqtt"
	config.PushURL = "tcp://broker:1884"
	config.Topic, config.RequestDest, config.HistoryDest = "", "", ""

	require.NoError(t, validateAndNormalizeConfig())
	assert.Equal(t, "tcp://broker:1884", config.PushURL)
	assert.Equal(t, push.DefaultMQTTTopic, config.Topic)
	assert.Equal(t, push.DefaultMQTTRequest, config.RequestDest)
	assert.Equal(t, push.DefaultMQTTHistory, config.HistoryDest)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(){
		"protocol":      func() { config.PushProtocol = "amqp" },
		"capacity":      func() { config.Capacity = 0 },
		"highlight":     func() { config.HighlightTTL = 0 },
		"latest":        func() { config.LatestN = 0 },
		"backoff order": func() { config.MinBackoff, config.MaxBackoff = time.Second, time.Millisecond },
		"window":        func() { config.WindowSize = 1500 * time.Millisecond },
		"decay":         func() { config.Decay = 2 },
		"log level":     func() { config.LogLevel = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			withConfig(t)
			mutate()
			assert.Error(t, validateAndNormalizeConfig())
		})
	}
}

func TestValidateClampsViewSplit(t *testing.T) {
	withConfig(t)
	config.ViewSplit = 95
	require.NoError(t, validateAndNormalizeConfig())
	assert.Equal(t, 80, config.ViewSplit)

	config.ViewSplit = 5
	require.NoError(t, validateAndNormalizeConfig())
	assert.Equal(t, 20, config.ViewSplit)
}

func TestApplyEnv(t *testing.T) {
	withConfig(t)
	err := applyEnv(lookupFrom(map[string]string{
		"CLIMATE_API_URL":       "http://sensors:9000/api",
		"CLIMATE_CAPACITY":      " 75 ",
		"CLIMATE_HIGHLIGHT_TTL": "5s",
		"CLIMATE_STATS":         "false",
		"CLIMATE_PUSH_TOPIC":    "",
	}))
	require.NoError(t, err)
	assert.Equal(t, "http://sensors:9000/api", config.APIURL)
	assert.Equal(t, 75, config.Capacity)
	assert.Equal(t, 5*time.Second, config.HighlightTTL)
	assert.False(t, config.StatsEnabled)
	assert.Empty(t, config.Topic)
}

func TestApplyEnvNamesBadVariable(t *testing.T) {
	withConfig(t)
	err := applyEnv(lookupFrom(map[string]string{"CLIMATE_CAPACITY": "many"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLIMATE_CAPACITY")
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	withConfig(t)
	path := filepath.Join(t.TempDir(), "climate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"push_protocol: mqtt\ncapacity: 20\nhighlight_ttl: 1s\nlatest_n: 3\n"), 0o600))

	err := loadConfig(lookupFrom(map[string]string{
		"CLIMATE_CONFIG":   path,
		"CLIMATE_CAPACITY": "30",
	}))
	require.NoError(t, err)
	assert.Equal(t, "mqtt", config.PushProtocol)
	assert.Equal(t, time.Second, config.HighlightTTL)
	assert.Equal(t, 3, config.LatestN)
	assert.Equal(t, 30, config.Capacity)
}

func TestLoadConfigMissingFile(t *testing.T) {
	withConfig(t)
	err := loadConfig(lookupFrom(map[string]string{
		"CLIMATE_CONFIG": filepath.Join(t.TempDir(), "absent.yaml"),
	}))
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	l, err := parseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, "WARN", l.String())

	_, err = parseLevel("chatty")
	assert.Error(t, err)
}

func TestNewLoggerCloseIsIdempotent(t *testing.T) {
	withConfig(t)
	saved := slog.Default()
	t.Cleanup(func() { slog.SetDefault(saved) })
	config.LogFile = filepath.Join(t.TempDir(), "climate.log")

	logger, closeLog, err := newLogger(false)
	require.NoError(t, err)
	logger.Info("hello")
	closeLog()
	assert.NotPanics(t, closeLog)

	b, err := os.ReadFile(config.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello")
}
