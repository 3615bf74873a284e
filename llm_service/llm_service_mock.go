package llm_service

import "context"

// MockLLMService is a func-field test double for LLMService.
type MockLLMService struct {
	CallLLMFunc func(ctx context.Context, config map[string]interface{}, prompt string) (string, error)
}

func (m *MockLLMService) CallLLM(ctx context.Context, config map[string]interface{}, prompt string) (string, error) {
	if m.CallLLMFunc != nil {
		return m.CallLLMFunc(ctx, config, prompt)
	}
	return "", nil
}

// MockEmbeddingService is a func-field test double for EmbeddingService.
type MockEmbeddingService struct {
	EmbedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)
	Dim            int
}

func (m *MockEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedBatchFunc != nil {
		return m.EmbedBatchFunc(ctx, texts)
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, m.Dim)
	}
	return vectors, nil
}

func (m *MockEmbeddingService) Dimension() int {
	return m.Dim
}
