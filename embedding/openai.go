package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	openai "github.com/sashabaranov/go-openai"
)

// Default OpenAI embedding models.
var DefaultOpenAIModels = []string{
	string(openai.SmallEmbedding3),
	string(openai.LargeEmbedding3),
	string(openai.AdaEmbeddingV2),
}

// OpenAIOptions configures an OpenAIProvider.
type OpenAIOptions struct {
	// BaseURL overrides the API endpoint for OpenAI-compatible servers
	// (Ollama, vLLM, Jina, ...).
	BaseURL string

	// Models is the list of accepted model ids.
	Models []string

	// Dimensions requests shortened vectors from models that support it.
	Dimensions int

	// HTTPClient overrides the HTTP client.
	HTTPClient *http.Client
}

// OpenAIProvider calls an OpenAI-compatible /embeddings endpoint.
// It is safe for concurrent use.
type OpenAIProvider struct {
	client *openai.Client
	opts   OpenAIOptions
}

// NewOpenAIProvider creates a provider authenticating with apiKey.
func NewOpenAIProvider(apiKey string, optFns ...func(o *OpenAIOptions)) (*OpenAIProvider, error) {
	opts := OpenAIOptions{Models: DefaultOpenAIModels}
	for _, fn := range optFns {
		fn(&opts)
	}
	if apiKey == "" && opts.BaseURL == "" {
		return nil, errors.New("openai provider: API key not set")
	}

	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		opts:   opts,
	}, nil
}

// Models implements Provider.
func (p *OpenAIProvider) Models() []string { return slices.Clone(p.opts.Models) }

// Embed implements Provider.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(model),
		Dimensions: p.opts.Dimensions,
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai provider: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("openai provider: invalid embedding index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// classify marks client errors other than rate limiting as permanent.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
		return Permanent(err)
	}
	return err
}
