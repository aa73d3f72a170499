package litellm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeGateway is an in-memory LiteLLM admin API.
type fakeGateway struct {
	mu      sync.Mutex
	entries []ModelEntry
}

func (g *fakeGateway) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/model/info", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()

		data := make([]map[string]any, 0, len(g.entries))
		for _, e := range g.entries {
			data = append(data, map[string]any{
				"model_name": e.ModelName,
				"model_info": map[string]any{"id": e.ID},
				"litellm_params": map[string]any{
					"model":    e.Model,
					"api_base": e.APIBase,
				},
			})
		}
		assert.NoError(t, json.NewEncoder(w).Encode(map[string]any{"data": data}))
	})

	mux.HandleFunc("/model/new", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		params := req["litellm_params"].(map[string]any)
		info := req["model_info"].(map[string]any)

		g.mu.Lock()
		g.entries = append(g.entries, ModelEntry{
			ModelName: req["model_name"].(string),
			ID:        info["id"].(string),
			Model:     params["model"].(string),
			APIBase:   params["api_base"].(string),
		})
		g.mu.Unlock()
		fmt.Fprint(w, `{}`)
	})

	mux.HandleFunc("/model/delete", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		g.mu.Lock()
		kept := g.entries[:0]
		for _, e := range g.entries {
			if e.ID != req["id"] {
				kept = append(kept, e)
			}
		}
		g.entries = kept
		g.mu.Unlock()
		fmt.Fprint(w, `{}`)
	})

	return mux
}

func TestAdd(t *testing.T) {
	gw := &fakeGateway{}
	server := httptest.NewServer(gw.handler(t))
	defer server.Close()

	client := NewClient(server.URL, zap.NewNop())
	require.NoError(t, client.Add(context.Background(), "mistral:7b", "http://1.2.3.4:33333"))

	require.Len(t, gw.entries, 1)
	assert.Equal(t, "mistral:7b", gw.entries[0].ModelName)
	assert.Equal(t, "ollama/mistral:7b", gw.entries[0].Model)
	assert.Equal(t, "http://1.2.3.4:33333", gw.entries[0].APIBase)
}

func TestAddIdempotentPerEndpoint(t *testing.T) {
	gw := &fakeGateway{}
	server := httptest.NewServer(gw.handler(t))
	defer server.Close()

	client := NewClient(server.URL, zap.NewNop())
	require.NoError(t, client.Add(context.Background(), "mistral:7b", "http://1.2.3.4:33333"))
	require.NoError(t, client.Add(context.Background(), "mistral:7b", "http://1.2.3.4:33333"))

	assert.Len(t, gw.entries, 1)
}

func TestAddNameCollisionGetsSuffix(t *testing.T) {
	gw := &fakeGateway{}
	server := httptest.NewServer(gw.handler(t))
	defer server.Close()

	client := NewClient(server.URL, zap.NewNop())
	require.NoError(t, client.Add(context.Background(), "mistral:7b", "http://1.2.3.4:33333"))
	require.NoError(t, client.Add(context.Background(), "mistral:7b", "https://happy-otter.trycloudflare.com"))

	require.Len(t, gw.entries, 2)
	assert.Equal(t, "mistral:7b", gw.entries[0].ModelName)
	assert.Equal(t, "mistral:7b__2", gw.entries[1].ModelName)
}

func TestAddGatewayDown(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", zap.NewNop())
	err := client.Add(context.Background(), "mistral:7b", "http://1.2.3.4:33333")
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	gw := &fakeGateway{entries: []ModelEntry{
		{ModelName: "a", ID: "a", Model: "ollama/a", APIBase: "http://x"},
		{ModelName: "b", ID: "b", Model: "ollama/b", APIBase: "http://y"},
	}}
	server := httptest.NewServer(gw.handler(t))
	defer server.Close()

	client := NewClient(server.URL, zap.NewNop())
	entries, err := client.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "http://x", entries[0].APIBase)
}

func TestRemoveByID(t *testing.T) {
	gw := &fakeGateway{entries: []ModelEntry{
		{ModelName: "a", ID: "a", Model: "ollama/a", APIBase: "http://x"},
	}}
	server := httptest.NewServer(gw.handler(t))
	defer server.Close()

	client := NewClient(server.URL, zap.NewNop())
	require.NoError(t, client.RemoveByID(context.Background(), "a"))
	assert.Empty(t, gw.entries)
}

func TestRemoveByEndpoint(t *testing.T) {
	endpoint := "http://1.2.3.4:33333"
	gw := &fakeGateway{entries: []ModelEntry{
		{ModelName: "a", ID: "a", Model: "ollama/a", APIBase: endpoint},
		{ModelName: "b", ID: "b", Model: "ollama/b", APIBase: "http://other:1"},
		{ModelName: "c", ID: "c", Model: "ollama/c", APIBase: endpoint},
	}}
	server := httptest.NewServer(gw.handler(t))
	defer server.Close()

	client := NewClient(server.URL, zap.NewNop())
	require.NoError(t, client.RemoveByEndpoint(context.Background(), endpoint))

	require.Len(t, gw.entries, 1)
	assert.Equal(t, "b", gw.entries[0].ModelName)
}
