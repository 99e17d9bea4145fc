package related

import (
	"context"
	"os"

	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/pkg/errors"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder reads OPENAI_API_KEY and, for compatible gateways, OPENAI_BASE_URL.
func NewOpenAIEmbedder(model string, extra ...option.RequestOption) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	client := openai.NewClient(opts...)
	return &OpenAIEmbedder{client: &client, model: model}, nil
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, errors.Wrap(err, "openai embedding")
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embedding: empty response")
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// OllamaEmbedder calls a local Ollama server.
type OllamaEmbedder struct {
	client *api.Client
	model  string
}

// NewOllamaEmbedder connects to OLLAMA_HOST (default http://127.0.0.1:11434).
func NewOllamaEmbedder(model string) (*OllamaEmbedder, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Ollama client")
	}
	return NewOllamaEmbedderWithClient(client, model), nil
}

// NewOllamaEmbedderWithClient uses an existing Ollama client.
func NewOllamaEmbedderWithClient(client *api.Client, model string) *OllamaEmbedder {
	return &OllamaEmbedder{client: client, model: model}
}

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, errors.Wrap(err, "ollama embedding")
	}
	if len(resp.Embeddings) == 0 {
		return nil, errors.New("ollama embedding: empty response")
	}
	return resp.Embeddings[0], nil
}

// NewEmbedder picks a backend by name: "openai" or "ollama".
func NewEmbedder(backend, model string) (Embedder, error) {
	switch backend {
	case "openai":
		return NewOpenAIEmbedder(model)
	case "ollama":
		return NewOllamaEmbedder(model)
	default:
		return nil, errors.Errorf("unknown embedder %q", backend)
	}
}
