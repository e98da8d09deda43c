package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Embedder turns text into vectors for the similarity backends.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Name() string
}

// GenAIEmbedder generates embeddings using Google's Gemini API.
type GenAIEmbedder struct {
	client     *genai.Client
	model      string
	taskType   string
	dimensions int
}

// NewGenAIEmbedder creates a Gemini embedding engine.
// dimensions <= 0 uses the model default of 768.
func NewGenAIEmbedder(ctx context.Context, apiKey, model, taskType string, dimensions int) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if dimensions <= 0 {
		dimensions = 768
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	// See https://ai.google.dev/gemini-api/docs/embeddings#task-types
	task := taskType
	switch taskType {
	case "SEMANTIC_SIMILARITY", "RETRIEVAL_DOCUMENT", "RETRIEVAL_QUERY", "CLUSTERING", "CLASSIFICATION":
	default:
		task = "SEMANTIC_SIMILARITY"
	}

	return &GenAIEmbedder{client: client, model: model, taskType: task, dimensions: dimensions}, nil
}

// Embed generates an embedding for a single text.
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	dims := int32(e.dimensions)
	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{
			TaskType:             e.taskType,
			OutputDimensionality: &dims,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

// Dimensions returns the vector size.
func (e *GenAIEmbedder) Dimensions() int { return e.dimensions }

// Name returns the engine name.
func (e *GenAIEmbedder) Name() string { return "genai:" + e.model }
