package vast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/g1ibby/llm-deploy/internal/poll"
)

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL: url,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
		LogFetch: poll.Profile{Attempts: 3, Delay: 0},
	}, zap.NewNop())
}

func TestQueryOffers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/bundles/", r.URL.Path)

		var q map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, "ask", q["type"])
		assert.Contains(t, q, "reliability2")
		assert.Contains(t, q, "static_ip")

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"offers": [
			{"id": 1, "gpu_totalram": 24576, "num_gpus": 1, "dph_total": 0.50, "total_flops": 100, "inet_up": 500, "inet_down": 500, "verification": "verified", "static_ip": true},
			{"id": 2, "gpu_totalram": 24576, "num_gpus": 1, "dph_total": 0.30, "total_flops": 80, "inet_up": 500, "inet_down": 500, "verification": "unverified", "static_ip": true},
			{"id": 3, "gpu_totalram": 24576, "num_gpus": 1, "dph_total": 0.40, "total_flops": 90, "inet_up": 0, "inet_down": 500, "verification": "verified", "static_ip": true},
			{"id": 4, "gpu_totalram": 24576, "num_gpus": 1, "dph_total": 0.45, "total_flops": 90, "inet_up": 400, "inet_down": 500, "verification": "verified", "static_ip": false},
			{"id": 5, "gpu_totalram": 49152, "num_gpus": 2, "dph_total": 0.25, "total_flops": 120, "inet_up": 600, "inet_down": 600, "verification": "verified", "static_ip": true}
		]}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	offers, err := client.QueryOffers(context.Background(), OfferFilter{
		GPURAMMB: 20480,
		DiskGB:   40,
		PublicIP: true,
	})
	require.NoError(t, err)

	// Unverified, no-upload and non-static offers are dropped; the rest
	// come back cheapest first.
	require.Len(t, offers, 2)
	assert.Equal(t, int64(5), offers[0].ID)
	assert.Equal(t, int64(1), offers[1].ID)
}

func TestQueryOffersLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		offers := `{"offers": [`
		for i := 0; i < 15; i++ {
			if i > 0 {
				offers += ","
			}
			offers += fmt.Sprintf(`{"id": %d, "dph_total": %f, "inet_up": 1, "inet_down": 1, "verification": "verified"}`, i, float64(i))
		}
		offers += `]}`
		fmt.Fprint(w, offers)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	offers, err := client.QueryOffers(context.Background(), OfferFilter{GPURAMMB: 1024})
	require.NoError(t, err)
	assert.Len(t, offers, 10)
}

func TestCreateInstance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/asks/77/", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))

		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ollama/ollama:latest", req["image"])
		assert.Equal(t, "args", req["runtype"])
		assert.Equal(t, false, req["use_jupyter_lab"])
		env, ok := req["env"].(map[string]any)
		assert.True(t, ok)
		assert.Equal(t, "1", env["-p 11434:11434"])

		fmt.Fprint(w, `{"success": true, "new_contract": 4242}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	id, err := client.CreateInstance(context.Background(), 77, 70, "ollama/ollama:latest", []int{11434})
	require.NoError(t, err)
	assert.Equal(t, int64(4242), id)
}

func TestCreateInstanceRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": false, "msg": "no such ask"}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	_, err := client.CreateInstance(context.Background(), 77, 70, "ollama/ollama:latest", nil)
	assert.ErrorIs(t, err, ErrCreateRejected)
}

func TestListInstances(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/instances", r.URL.Path)
		fmt.Fprint(w, `{"instances": [
			{"id": 42, "actual_status": "running", "intended_status": "running", "cur_state": "running",
			 "public_ipaddr": "1.2.3.4\n", "ports": {"11434/tcp": [{"HostIp": "0.0.0.0", "HostPort": "33333"}]}}
		]}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	instances, err := client.ListInstances(context.Background())
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, int64(42), instances[0].ID)
	assert.Equal(t, "33333", instances[0].Ports["11434/tcp"][0].HostPort)
}

func TestDestroyInstance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/instances/42/", r.URL.Path)
		fmt.Fprint(w, `{"success": true}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	ok, err := client.DestroyInstance(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDestroyInstanceAlreadyGone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": false, "msg": "no such instance"}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	ok, err := client.DestroyInstance(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInstanceLogs(t *testing.T) {
	var mux http.ServeMux
	var logURL string

	mux.HandleFunc("/instances/request_logs/42/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "1000", body["tail"])
		fmt.Fprintf(w, `{"success": true, "result_url": %q}`, logURL)
	})
	mux.HandleFunc("/logfile", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "line one\nline two\nyour tunnel is https://happy-otter.trycloudflare.com ready\n")
	})

	server := httptest.NewServer(&mux)
	defer server.Close()
	logURL = server.URL + "/logfile"

	client := testClient(t, server.URL)
	lines, err := client.InstanceLogs(context.Background(), 42, 1000)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "line one", lines[0])
}

func TestInstanceLogsRetriesOnAccessDenied(t *testing.T) {
	var mux http.ServeMux
	var logURL string
	attempts := 0

	mux.HandleFunc("/instances/request_logs/42/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"success": true, "result_url": %q}`, logURL)
	})
	mux.HandleFunc("/logfile", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			fmt.Fprint(w, "<Error>Access Denied</Error>")
			return
		}
		fmt.Fprint(w, "booted\n")
	})

	server := httptest.NewServer(&mux)
	defer server.Close()
	logURL = server.URL + "/logfile"

	client := testClient(t, server.URL)
	lines, err := client.InstanceLogs(context.Background(), 42, 1000)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "booted", lines[0])
	assert.Equal(t, 3, attempts)
}

func TestInstanceLogsExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": false}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	lines, err := client.InstanceLogs(context.Background(), 42, 1000)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestTunnelURL(t *testing.T) {
	var mux http.ServeMux
	var logURL string

	mux.HandleFunc("/instances/request_logs/7/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"success": true, "result_url": %q}`, logURL)
	})
	mux.HandleFunc("/logfile", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "starting tunnel\nyour tunnel is https://happy-otter.trycloudflare.com ready\n")
	})

	server := httptest.NewServer(&mux)
	defer server.Close()
	logURL = server.URL + "/logfile"

	client := testClient(t, server.URL)
	url, err := client.TunnelURL(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "https://happy-otter.trycloudflare.com", url)
}

func TestTunnelURLAbsent(t *testing.T) {
	var mux http.ServeMux
	var logURL string

	mux.HandleFunc("/instances/request_logs/7/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"success": true, "result_url": %q}`, logURL)
	})
	mux.HandleFunc("/logfile", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "nothing to see here\n")
	})

	server := httptest.NewServer(&mux)
	defer server.Close()
	logURL = server.URL + "/logfile"

	client := testClient(t, server.URL)
	url, err := client.TunnelURL(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, url)
}
