// Package httpclient wraps hashicorp/go-retryablehttp for cmd/rabiactl's
// use against a running node's admin HTTP server (pkg/rabia/adminhttp).
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// Client is a small JSON-over-HTTP client with automatic retries.
type Client struct {
	base string
	rc   *retryablehttp.Client
}

// New creates a Client targeting baseURL (e.g. "http://127.0.0.1:8080").
func New(baseURL string, log zerolog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 4
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = retryableLogger{log: log.With().Str("component", "httpclient").Logger()}
	return &Client{base: baseURL, rc: rc}
}

// PostJSON POSTs body as JSON to path and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("httpclient: encode request: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// GetJSON GETs path and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *retryablehttp.Request, out interface{}) error {
	resp, err := c.rc.Do(req)
	if err != nil {
		return fmt.Errorf("httpclient: %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpclient: reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("httpclient: %s %s: status %d: %s", req.Method, req.URL, resp.StatusCode, string(data))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// retryableLogger adapts zerolog to retryablehttp.LeveledLogger.
type retryableLogger struct {
	log zerolog.Logger
}

func (l retryableLogger) Error(msg string, kv ...interface{}) { l.log.Error().Fields(kvMap(kv)).Msg(msg) }
func (l retryableLogger) Info(msg string, kv ...interface{})  { l.log.Info().Fields(kvMap(kv)).Msg(msg) }
func (l retryableLogger) Debug(msg string, kv ...interface{}) { l.log.Debug().Fields(kvMap(kv)).Msg(msg) }
func (l retryableLogger) Warn(msg string, kv ...interface{})  { l.log.Warn().Fields(kvMap(kv)).Msg(msg) }

// kvMap turns retryablehttp's alternating key/value slice into the map
// zerolog's Fields wants.
func kvMap(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}
