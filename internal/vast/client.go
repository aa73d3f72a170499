package vast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/g1ibby/llm-deploy/internal/poll"
)

const defaultBaseURL = "https://console.vast.ai/api/v0"

var tunnelURLPattern = regexp.MustCompile(`https://[^\s]+\.trycloudflare\.com`)

// Client talks to the vast.ai marketplace API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger

	logFetch poll.Profile
}

// Config holds marketplace client configuration.
type Config struct {
	BaseURL string        // defaults to the public vast.ai API
	APIKey  string        // account API key, appended as a query parameter
	Timeout time.Duration // per-request HTTP timeout (default: 60s)

	// LogFetch bounds the two-step log retrieval. Defaults to 10
	// attempts with a 1 second gap.
	LogFetch poll.Profile
}

// NewClient creates a marketplace client with pooled connections.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.LogFetch.Attempts == 0 {
		cfg.LogFetch = poll.Profile{Attempts: 10, Delay: time.Second}
	}

	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		logger:     logger,
		logFetch:   cfg.LogFetch,
	}
}

// QueryOffers returns rentable offers matching the filter, cheapest
// first. Server-side constraints go in the query body; verification,
// internet-speed and static-ip checks are re-applied client-side because
// the marketplace is not authoritative about them.
func (c *Client) QueryOffers(ctx context.Context, f OfferFilter) ([]Offer, error) {
	if f.MinGPUs == 0 {
		f.MinGPUs = 1
	}
	if f.MaxGPUs == 0 {
		f.MaxGPUs = 2
	}
	if f.DiskGB == 0 {
		f.DiskGB = 40
	}
	if f.MinInetDown == 0 {
		f.MinInetDown = 70
	}
	if f.Limit == 0 {
		f.Limit = 10
	}

	q := offerQuery{
		Reliability:      gte{Gte: 0.85},
		DiskSpace:        gte{Gte: f.DiskGB},
		Rentable:         eqBool{Eq: true},
		NumGPUs:          gteLte{Gte: f.MinGPUs, Lte: f.MaxGPUs},
		GPUTotalRAM:      gte{Gte: f.GPURAMMB},
		DirectPortCount:  gte{Gte: 1},
		InetDown:         gte{Gte: f.MinInetDown},
		AllocatedStorage: f.DiskGB,
		Order:            [][]string{{"dphtotal", "asc"}, {"total_flops", "asc"}},
		Type:             "ask",
	}
	if f.PublicIP {
		q.StaticIP = &eqBool{Eq: true}
	}

	c.logger.Debug("querying offers",
		zap.Float64("gpu_ram_mb", f.GPURAMMB),
		zap.Float64("disk_gb", f.DiskGB),
		zap.Bool("public_ip", f.PublicIP),
	)

	var resp offersResponse
	if err := c.doRequest(ctx, http.MethodPost, "/bundles/", q, &resp); err != nil {
		return nil, fmt.Errorf("query offers: %w", err)
	}

	offers := filterOffers(resp.Offers, f.PublicIP)
	sort.SliceStable(offers, func(i, j int) bool {
		if offers[i].DPHTotal != offers[j].DPHTotal {
			return offers[i].DPHTotal < offers[j].DPHTotal
		}
		return offers[i].TotalFlops < offers[j].TotalFlops
	})
	if len(offers) > f.Limit {
		offers = offers[:f.Limit]
	}

	c.logger.Debug("offers retrieved",
		zap.Int("total", len(resp.Offers)),
		zap.Int("returned", len(offers)),
	)
	return offers, nil
}

func filterOffers(offers []Offer, publicIP bool) []Offer {
	kept := make([]Offer, 0, len(offers))
	for _, o := range offers {
		if o.Verification != "verified" {
			continue
		}
		if o.InetUp <= 0 || o.InetDown <= 0 {
			continue
		}
		if publicIP && !o.StaticIP {
			continue
		}
		kept = append(kept, o)
	}
	return kept
}

// CreateInstance rents the machine behind an offer. A port list of
// length k becomes k "-p <p>:<p>" environment entries, which the image's
// entrypoint translates to docker port bindings. Returns the new
// contract id, or ErrCreateRejected when the marketplace declines the
// ask (typically a stale offer).
func (c *Client) CreateInstance(ctx context.Context, offerID int64, diskGB float64, image string, ports []int) (int64, error) {
	env := make(map[string]string, len(ports))
	for _, p := range ports {
		env[fmt.Sprintf("-p %d:%d", p, p)] = "1"
	}

	req := createRequest{
		ClientID:   "me",
		Image:      image,
		Env:        env,
		RunType:    "args",
		UseJupyter: false,
		DiskGB:     diskGB,
	}

	c.logger.Info("creating instance",
		zap.Int64("offer_id", offerID),
		zap.String("image", image),
		zap.Float64("disk_gb", diskGB),
	)

	var resp createResponse
	path := fmt.Sprintf("/asks/%d/?api_key=%s", offerID, c.apiKey)
	if err := c.doRequest(ctx, http.MethodPut, path, req, &resp); err != nil {
		return 0, fmt.Errorf("create instance: %w", err)
	}
	if !resp.Success || resp.NewContract == 0 {
		c.logger.Warn("create rejected by marketplace",
			zap.Int64("offer_id", offerID),
			zap.String("msg", resp.Msg),
		)
		return 0, ErrCreateRejected
	}

	c.logger.Info("instance created",
		zap.Int64("offer_id", offerID),
		zap.Int64("instance_id", resp.NewContract),
	)
	return resp.NewContract, nil
}

// ListInstances returns every instance on the account.
func (c *Client) ListInstances(ctx context.Context) ([]Instance, error) {
	var resp instancesResponse
	path := "/instances?api_key=" + c.apiKey
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return resp.Instances, nil
}

// DestroyInstance terminates a rented instance. Destroying an id that is
// already gone is reported as success=false by the marketplace but is
// not a transport failure; callers treat it as idempotent.
func (c *Client) DestroyInstance(ctx context.Context, instanceID int64) (bool, error) {
	c.logger.Info("destroying instance", zap.Int64("instance_id", instanceID))

	var resp destroyResponse
	path := fmt.Sprintf("/instances/%d/?api_key=%s", instanceID, c.apiKey)
	if err := c.doRequest(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return false, fmt.Errorf("destroy instance %d: %w", instanceID, err)
	}
	if !resp.Success {
		c.logger.Warn("destroy not acknowledged",
			zap.Int64("instance_id", instanceID),
			zap.String("msg", resp.Msg),
		)
	}
	return resp.Success, nil
}

// InstanceLogs fetches the container log tail for an instance. The
// marketplace serves logs in two steps: request a result URL, then fetch
// it. Both steps are flaky right after boot, so the whole exchange
// retries on a 10x1s budget; exhaustion returns an empty slice, not an
// error.
func (c *Client) InstanceLogs(ctx context.Context, instanceID int64, tail int) ([]string, error) {
	if tail <= 0 {
		tail = 1000
	}

	var lines []string
	done, err := poll.Until(ctx, c.logFetch, func(ctx context.Context) (bool, error) {
		var resp logsResponse
		path := fmt.Sprintf("/instances/request_logs/%d/?api_key=%s", instanceID, c.apiKey)
		body := map[string]string{"tail": fmt.Sprintf("%d", tail)}
		if err := c.doRequest(ctx, http.MethodPut, path, body, &resp); err != nil {
			c.logger.Warn("log url request failed", zap.Int64("instance_id", instanceID), zap.Error(err))
			return false, nil
		}
		if !resp.Success || resp.ResultURL == "" {
			c.logger.Debug("log url not ready", zap.Int64("instance_id", instanceID))
			return false, nil
		}

		text, err := c.fetchText(ctx, resp.ResultURL)
		if err != nil {
			c.logger.Warn("log fetch failed", zap.Int64("instance_id", instanceID), zap.Error(err))
			return false, nil
		}
		if strings.Contains(text, "Access Denied") {
			c.logger.Debug("log bucket not yet readable", zap.Int64("instance_id", instanceID))
			return false, nil
		}

		lines = strings.Split(strings.TrimRight(text, "\n"), "\n")
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !done {
		c.logger.Warn("log retrieval budget exhausted", zap.Int64("instance_id", instanceID))
		return []string{}, nil
	}
	return lines, nil
}

// TunnelURL scans the instance logs for the first reverse-tunnel URL.
// Returns "" when the logs do not contain one yet.
func (c *Client) TunnelURL(ctx context.Context, instanceID int64) (string, error) {
	lines, err := c.InstanceLogs(ctx, instanceID, 1000)
	if err != nil {
		return "", err
	}
	return tunnelURLPattern.FindString(strings.Join(lines, "\n")), nil
}

func (c *Client) fetchText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return string(body), nil
}

// doRequest executes a single JSON request against the marketplace API.
func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("marketplace request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debug("marketplace response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
