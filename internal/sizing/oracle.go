package sizing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHubURL        = "https://huggingface.co"
	defaultContextTokens = 8192
)

// Oracle resolves a model identifier to its GPU memory footprint. The
// parameter count comes from the model hub's weight-index metadata; the
// footprint is the weights at the identifier's quantisation plus the
// serving context.
type Oracle struct {
	hubURL        string
	httpClient    *http.Client
	logger        *zap.Logger
	contextTokens float64
}

// Config holds size oracle configuration.
type Config struct {
	HubURL        string        // model hub base URL (default: huggingface.co)
	Timeout       time.Duration // per-request timeout (default: 30s)
	ContextTokens int           // serving context size (default: 8192)
}

// NewOracle creates a size oracle.
func NewOracle(cfg Config, logger *zap.Logger) *Oracle {
	if cfg.HubURL == "" {
		cfg.HubURL = defaultHubURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ContextTokens == 0 {
		cfg.ContextTokens = defaultContextTokens
	}
	return &Oracle{
		hubURL:        strings.TrimRight(cfg.HubURL, "/"),
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		logger:        logger,
		contextTokens: float64(cfg.ContextTokens),
	}
}

// SizeGB returns the memory footprint of a model in gigabytes. The
// identifier is either a hub repository ("org/repo") or an ollama-style
// name whose repository is resolved through the hub's search API.
func (o *Oracle) SizeGB(ctx context.Context, identifier string) (float64, error) {
	name, quant := splitIdentifier(identifier)

	repo := name
	if !strings.Contains(repo, "/") {
		resolved, err := o.searchRepo(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("resolve %s: %w", identifier, err)
		}
		repo = resolved
	}

	parameters, err := o.fetchParameters(ctx, repo)
	if err != nil {
		return 0, fmt.Errorf("fetch parameter count for %s: %w", repo, err)
	}

	weights, err := weightBytes(parameters, quant)
	if err != nil {
		return 0, err
	}

	total := weights
	if cfg, err := o.fetchModelConfig(ctx, repo); err == nil {
		total += contextBytes(o.contextTokens, cfg)
	} else {
		o.logger.Debug("model config unavailable, sizing weights only",
			zap.String("repo", repo),
			zap.Error(err),
		)
	}

	sizeGB := total / 1e9
	o.logger.Info("model size resolved",
		zap.String("identifier", identifier),
		zap.String("repo", repo),
		zap.String("quant", quant),
		zap.Float64("size_gb", sizeGB),
	)
	return sizeGB, nil
}

// searchRepo resolves a bare model name to a hub repository via the
// quicksearch API, taking the top hit.
func (o *Oracle) searchRepo(ctx context.Context, name string) (string, error) {
	u := fmt.Sprintf("%s/api/quicksearch?type=model&q=%s", o.hubURL, url.QueryEscape(name))

	var payload struct {
		Models []struct {
			ID string `json:"id"`
		} `json:"models"`
	}
	if err := o.getJSON(ctx, u, &payload); err != nil {
		return "", err
	}
	if len(payload.Models) == 0 {
		return "", fmt.Errorf("no hub models match %q", name)
	}
	return payload.Models[0].ID, nil
}

// fetchParameters reads the parameter count from the repo's weight
// index. The index reports fp16 storage, so half the byte total is the
// parameter count.
func (o *Oracle) fetchParameters(ctx context.Context, repo string) (float64, error) {
	sources := []string{
		fmt.Sprintf("%s/%s/resolve/main/model.safetensors.index.json", o.hubURL, repo),
		fmt.Sprintf("%s/%s/resolve/main/pytorch_model.bin.index.json", o.hubURL, repo),
	}

	var lastErr error
	for _, src := range sources {
		var payload struct {
			Metadata struct {
				TotalSize float64 `json:"total_size"`
			} `json:"metadata"`
		}
		if err := o.getJSON(ctx, src, &payload); err != nil {
			lastErr = err
			continue
		}
		if payload.Metadata.TotalSize > 0 {
			return payload.Metadata.TotalSize / 2, nil
		}
		lastErr = fmt.Errorf("index at %s carries no total_size", src)
	}
	return 0, lastErr
}

func (o *Oracle) fetchModelConfig(ctx context.Context, repo string) (modelConfig, error) {
	var cfg modelConfig
	u := fmt.Sprintf("%s/%s/raw/main/config.json", o.hubURL, repo)
	if err := o.getJSON(ctx, u, &cfg); err != nil {
		return modelConfig{}, err
	}
	if cfg.NumAttentionHeads == 0 || cfg.NumKeyValueHeads == 0 {
		return modelConfig{}, fmt.Errorf("config at %s lacks attention geometry", u)
	}
	return cfg, nil
}

func (o *Oracle) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
