package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Status of the inference server behind an endpoint.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusUnknown Status = "unknown"
)

// Model is one locally available model as reported by the worker.
type Model struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
	ModifiedAt string `json:"modified_at"`
}

// Client is a thin typed wrapper around the inference server exposed at
// a single endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient returns a worker client for the given endpoint URL. Pulls
// stream for as long as the download takes, so the client deliberately
// carries no overall request timeout.
func NewClient(endpoint string, logger *zap.Logger) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Endpoint returns the URL this client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// ServerStatus probes the worker's liveness endpoint. A transport
// failure yields StatusUnknown so callers can keep polling.
func (c *Client) ServerStatus(ctx context.Context) Status {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return StatusUnknown
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("worker status probe failed", zap.String("endpoint", c.endpoint), zap.Error(err))
		return StatusUnknown
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return StatusUnknown
	}
	if string(body) == "Ollama is running" {
		return StatusRunning
	}
	return StatusStopped
}

// Pull downloads a model onto the worker, invoking fn for every
// streamed progress event. The stream is finite: it closes with a
// success event, an error event, or end of stream. A non-200 response
// is surfaced as a single synthetic error event. fn returning an error
// aborts the stream.
func (c *Client) Pull(ctx context.Context, model string, fn func(ProgressEvent) error) error {
	payload, err := json.Marshal(map[string]string{"name": model})
	if err != nil {
		return fmt.Errorf("marshal pull request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/pull", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("pulling model", zap.String("endpoint", c.endpoint), zap.String("model", model))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pull %s: %w", model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fn(ProgressEvent{Err: string(body)})
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := parseEvent(line)
		if err != nil {
			return fmt.Errorf("decode pull event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read pull stream: %w", err)
	}
	return nil
}

// List returns the models present on the worker.
func (c *Client) List(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create tags request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list models: status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Models []Model `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode tags response: %w", err)
	}
	return payload.Models, nil
}

// Test issues a generation request against a model and reports the last
// observed done flag from the streamed response.
func (c *Client) Test(ctx context.Context, model string) (bool, error) {
	payload, err := json.Marshal(map[string]string{
		"model":  model,
		"prompt": "Who is the president of the United States?",
	})
	if err != nil {
		return false, fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("test %s: %w", model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	done := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk struct {
			Done *bool `json:"done"`
		}
		if err := json.Unmarshal(line, &chunk); err != nil {
			return false, fmt.Errorf("decode generate event: %w", err)
		}
		if chunk.Done != nil {
			done = *chunk.Done
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("read generate stream: %w", err)
	}
	return done, nil
}

// Delete removes a model from the worker. True iff the worker answered 200.
func (c *Client) Delete(ctx context.Context, model string) (bool, error) {
	payload, err := json.Marshal(map[string]string{"name": model})
	if err != nil {
		return false, fmt.Errorf("marshal delete request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint+"/api/delete", bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("create delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", model, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK, nil
}
