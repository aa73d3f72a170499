package litellm

import (
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

// ModelEntry is one registered (model_name, endpoint) binding as the
// gateway reports it.
type ModelEntry struct {
	ModelName string
	ID        string
	Model     string
	APIBase   string
}

// Client manages model registrations on the routing gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient returns a gateway client for the given admin base URL.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type registerRequest struct {
	ModelName     string        `json:"model_name"`
	LiteLLMParams liteLLMParams `json:"litellm_params"`
	ModelInfo     modelInfo     `json:"model_info"`
}

type liteLLMParams struct {
	Model   string `json:"model"`
	APIBase string `json:"api_base"`
}

type modelInfo struct {
	ID string `json:"id"`
}

type infoResponse struct {
	Data []struct {
		ModelName string `json:"model_name"`
		ModelInfo struct {
			ID string `json:"id"`
		} `json:"model_info"`
		LiteLLMParams struct {
			Model   string `json:"model"`
			APIBase string `json:"api_base"`
		} `json:"litellm_params"`
	} `json:"data"`
}

// Add registers a model served at the given endpoint. Registered names
// are unique: registering the same (model, endpoint) pair again is a
// no-op, and a name collision from another endpoint gets a numeric
// suffix. The gateway routes the entry as "ollama/<model>".
func (c *Client) Add(ctx context.Context, model, endpoint string) error {
	entries, err := c.List(ctx)
	if err != nil {
		return err
	}

	name := model
	suffix := 1
	for _, e := range entries {
		if !strings.HasPrefix(e.ModelName, model) {
			continue
		}
		if e.APIBase == endpoint {
			c.logger.Debug("model already registered",
				zap.String("model", model),
				zap.String("endpoint", endpoint),
			)
			return nil
		}
		if e.ModelName == name {
			suffix++
			name = fmt.Sprintf("%s__%d", model, suffix)
		}
	}

	req := registerRequest{
		ModelName: name,
		LiteLLMParams: liteLLMParams{
			Model:   "ollama/" + model,
			APIBase: endpoint,
		},
		ModelInfo: modelInfo{ID: name},
	}
	if err := c.post(ctx, "/model/new", req); err != nil {
		return fmt.Errorf("register model %s: %w", name, err)
	}

	c.logger.Info("model registered with gateway",
		zap.String("model_name", name),
		zap.String("endpoint", endpoint),
	)
	return nil
}

// List returns every model binding the gateway knows about.
func (c *Client) List(ctx context.Context) ([]ModelEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/model/info", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list gateway models: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list gateway models: status %d: %s", resp.StatusCode, body)
	}

	var payload infoResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode model info: %w", err)
	}

	entries := make([]ModelEntry, 0, len(payload.Data))
	for _, d := range payload.Data {
		entries = append(entries, ModelEntry{
			ModelName: d.ModelName,
			ID:        d.ModelInfo.ID,
			Model:     d.LiteLLMParams.Model,
			APIBase:   d.LiteLLMParams.APIBase,
		})
	}
	return entries, nil
}

// RemoveByID deletes a single gateway entry by its model id.
func (c *Client) RemoveByID(ctx context.Context, id string) error {
	if err := c.post(ctx, "/model/delete", map[string]string{"id": id}); err != nil {
		return fmt.Errorf("remove model %s: %w", id, err)
	}
	c.logger.Info("model removed from gateway", zap.String("id", id))
	return nil
}

// RemoveByEndpoint deletes every entry whose api_base matches the
// endpoint. This is the compensating action for instance destruction:
// no binding may outlive the instance it points at.
func (c *Client) RemoveByEndpoint(ctx context.Context, endpoint string) error {
	entries, err := c.List(ctx)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.APIBase != endpoint {
			continue
		}
		if err := c.RemoveByID(ctx, e.ID); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway %s: status %d: %s", path, resp.StatusCode, respBody)
	}
	return nil
}
