package llm_service

import "context"

// LLMService issues a completion request. The config map carries
// api_url, api_key, model_name and optional parameters.
type LLMService interface {
	CallLLM(ctx context.Context, config map[string]interface{}, prompt string) (string, error)
}

// EmbeddingService converts a batch of texts into fixed-dimension
// vectors, one per input, in input order.
type EmbeddingService interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}
