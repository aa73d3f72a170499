package sizing

import (
	"fmt"
	"strings"
)

// ggufQuants maps a GGUF quantisation tag to its bits per weight.
var ggufQuants = map[string]float64{
	"Q3_K_S": 3.5,
	"Q3_K_M": 3.91,
	"Q3_K_L": 4.27,
	"Q4_0":   4.55,
	"Q4_K_S": 4.58,
	"Q4_K_M": 4.85,
	"Q5_0":   5.54,
	"Q5_K_S": 5.54,
	"Q5_K_M": 5.69,
	"Q6_K":   6.59,
	"Q8_0":   8.5,
}

// fp16BitsPerWeight is assumed when an identifier carries no
// quantisation tag.
const fp16BitsPerWeight = 16

// modelConfig is the subset of a model's config.json the context-size
// estimation needs.
type modelConfig struct {
	HiddenSize       float64 `json:"hidden_size"`
	NumAttentionHeads float64 `json:"num_attention_heads"`
	NumKeyValueHeads float64 `json:"num_key_value_heads"`
	NumHiddenLayers  float64 `json:"num_hidden_layers"`
}

// weightBytes returns the weight storage in bytes for a parameter count
// at the given quantisation.
func weightBytes(parameters float64, quant string) (float64, error) {
	if quant == "" {
		return parameters * fp16BitsPerWeight / 8, nil
	}
	bpw, ok := ggufQuants[quant]
	if !ok {
		return 0, fmt.Errorf("unsupported quantisation %q", quant)
	}
	return parameters * bpw / 8, nil
}

// contextBytes estimates the memory the serving context takes on top of
// the weights: input buffers, the KV cache, and the compute buffer, at
// batch size 512. The formulas follow the llama.cpp allocation scheme.
func contextBytes(context float64, cfg modelConfig) float64 {
	const bsz = 512

	inputBuffer := bsz + cfg.HiddenSize*bsz + bsz + context*bsz + context + bsz

	nGQA := cfg.NumAttentionHeads / cfg.NumKeyValueHeads
	nEmbdGQA := cfg.HiddenSize / nGQA
	kvCache := 2 * nEmbdGQA * cfg.NumHiddenLayers * context * 2 // fp16 cache

	computeBuffer := (context/1024*2 + 0.75) * cfg.NumAttentionHeads * 1024 * 1024

	return inputBuffer + kvCache + computeBuffer
}

// splitIdentifier breaks an ollama-style identifier into the search
// name and quantisation tag. "mixtral:8x7b-text-v0.1-q5_K_M" becomes
// ("mixtral-8x7b", "Q5_K_M"); an identifier without a tag keeps its
// name and carries no quant.
func splitIdentifier(identifier string) (name, quant string) {
	parts := strings.SplitN(identifier, ":", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}

	base := strings.Split(parts[0], "-")[0]
	tagParts := strings.Split(parts[1], "-")
	sizeDetail := tagParts[0]

	quant = strings.ToUpper(tagParts[len(tagParts)-1])
	if _, ok := ggufQuants[quant]; !ok {
		quant = ""
	}
	return base + "-" + sizeDetail, quant
}
