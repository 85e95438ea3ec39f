// Package query is the request/response client of the sensor REST API.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/reading"
)

const (
	DefaultBaseURL = "http://localhost:8080/api"
	DefaultTimeout = 10 * time.Second
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

type Options struct {
	// BaseURL is the API root; sensor resources live under /sensors.
	BaseURL string
	Timeout time.Duration
	// HTTPClient replaces the transport, mainly for tests.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	r   *resty.Client
	log *slog.Logger
}

func New(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	var r *resty.Client
	if opts.HTTPClient != nil {
		r = resty.NewWithClient(opts.HTTPClient)
	} else {
		r = resty.New()
	}
	r.SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{r: r, log: log}
}

// FetchAll returns every stored reading in server order.
func (c *Client) FetchAll(ctx context.Context) ([]reading.Reading, error) {
	var out []reading.Reading
	if err := c.do(ctx, http.MethodGet, "/sensors", nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchLatest returns at most n of the newest readings, newest first. The
// server decides its own page size; the result is trimmed to n.
func (c *Client) FetchLatest(ctx context.Context, n int) ([]reading.Reading, error) {
	var out []reading.Reading
	err := c.do(ctx, http.MethodGet, "/sensors/latest", nil, &out, func(req *resty.Request) {
		if n > 0 {
			req.SetQueryParam("limit", strconv.Itoa(n))
		}
	})
	if err != nil {
		return nil, err
	}
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// FetchByID returns the stored record with the given id.
func (c *Client) FetchByID(ctx context.Context, id int64) (reading.Reading, error) {
	var out reading.Reading
	err := c.do(ctx, http.MethodGet, "/sensors/{id}", nil, &out, withID(id))
	return out, err
}

func (c *Client) Create(ctx context.Context, r reading.Reading) (reading.Reading, error) {
	var out reading.Reading
	err := c.do(ctx, http.MethodPost, "/sensors", r, &out, nil)
	return out, err
}

func (c *Client) Update(ctx context.Context, id int64, r reading.Reading) (reading.Reading, error) {
	var out reading.Reading
	err := c.do(ctx, http.MethodPut, "/sensors/{id}", r, &out, withID(id))
	return out, err
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/sensors/{id}", nil, nil, withID(id))
}

func withID(id int64) func(*resty.Request) {
	return func(req *resty.Request) {
		req.SetPathParam("id", strconv.FormatInt(id, 10))
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, result any, prepare func(*resty.Request)) error {
	req := c.r.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if prepare != nil {
		prepare(req)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		c.log.Warn("sensor api request failed", slog.String("method", method), slog.String("path", path), slog.String("error", err.Error()))
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	c.log.Debug("sensor api request",
		slog.String("method", method),
		slog.String("url", resp.Request.URL),
		slog.Int("status", resp.StatusCode()),
		slog.Duration("took", time.Since(start)))

	if resp.IsError() || resp.StatusCode() >= 300 {
		return &StatusError{
			Method: method,
			URL:    resp.Request.URL,
			Code:   resp.StatusCode(),
			Body:   strings.TrimSpace(resp.String()),
		}
	}
	if result != nil {
		if err := json.Unmarshal(resp.Body(), result); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}
