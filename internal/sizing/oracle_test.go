package sizing

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSplitIdentifier(t *testing.T) {
	tests := []struct {
		in    string
		name  string
		quant string
	}{
		{"mixtral:8x7b-text-v0.1-q5_K_M", "mixtral-8x7b", "Q5_K_M"},
		{"deepseek-coder:6.7b-base-q5_K_M", "deepseek-6.7b", "Q5_K_M"},
		{"mistral:7b", "mistral-7b", ""},
		{"org/repo", "org/repo", ""},
		{"phi", "phi", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, quant := splitIdentifier(tt.in)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.quant, quant)
		})
	}
}

func TestWeightBytes(t *testing.T) {
	got, err := weightBytes(7e9, "Q5_K_M")
	require.NoError(t, err)
	assert.InDelta(t, 7e9*5.69/8, got, 1)

	got, err = weightBytes(7e9, "")
	require.NoError(t, err)
	assert.InDelta(t, 14e9, got, 1)

	_, err = weightBytes(7e9, "Q2_K")
	assert.Error(t, err)
}

func newHub(t *testing.T, repo string, totalSize float64, config string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/quicksearch", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"models": [{"id": %q}]}`, repo)
	})
	mux.HandleFunc("/"+repo+"/resolve/main/model.safetensors.index.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"metadata": {"total_size": %f}}`, totalSize)
	})
	mux.HandleFunc("/"+repo+"/raw/main/config.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, config)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return httptest.NewServer(mux)
}

const mistralConfig = `{
	"hidden_size": 4096,
	"num_attention_heads": 32,
	"num_key_value_heads": 8,
	"num_hidden_layers": 32
}`

func TestSizeGBQuantised(t *testing.T) {
	// 14.4e9 bytes fp16 index => 7.2e9 parameters.
	server := newHub(t, "mistralai/Mistral-7B-v0.1", 14.4e9, mistralConfig)
	defer server.Close()

	oracle := NewOracle(Config{HubURL: server.URL}, zap.NewNop())
	got, err := oracle.SizeGB(context.Background(), "mistral:7b-instruct-q5_K_M")
	require.NoError(t, err)

	// Weights: 7.2e9 * 5.69 / 8 = 5.121e9 bytes. Context adds the KV
	// cache and buffers on top, so the result lands above the weights
	// alone but well under double.
	assert.Greater(t, got, 5.1)
	assert.Less(t, got, 8.0)
}

func TestSizeGBDirectRepo(t *testing.T) {
	server := newHub(t, "org/tiny", 2e9, mistralConfig)
	defer server.Close()

	oracle := NewOracle(Config{HubURL: server.URL}, zap.NewNop())
	got, err := oracle.SizeGB(context.Background(), "org/tiny")
	require.NoError(t, err)

	// 1e9 params at fp16 = 2e9 bytes of weights, plus context.
	assert.Greater(t, got, 2.0)
}

func TestSizeGBFallsBackToPytorchIndex(t *testing.T) {
	repo := "org/older"
	mux := http.NewServeMux()
	mux.HandleFunc("/"+repo+"/resolve/main/model.safetensors.index.json", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/"+repo+"/resolve/main/pytorch_model.bin.index.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"metadata": {"total_size": 2000000000}}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	oracle := NewOracle(Config{HubURL: server.URL}, zap.NewNop())
	got, err := oracle.SizeGB(context.Background(), repo)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got, 0.01) // 1e9 params, fp16, no config => weights only
}

func TestSizeGBUnknownModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/quicksearch" {
			fmt.Fprint(w, `{"models": []}`)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	oracle := NewOracle(Config{HubURL: server.URL}, zap.NewNop())
	_, err := oracle.SizeGB(context.Background(), "nonexistent:latest")
	assert.Error(t, err)
}
