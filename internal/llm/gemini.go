package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autotool/internal/logging"

	"google.golang.org/genai"
)

// GeminiConfig holds Gemini client settings.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float32
}

// GeminiClient implements Client on the Google GenAI SDK.
type GeminiClient struct {
	client      *genai.Client
	model       string
	timeout     time.Duration
	temperature float32
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       model,
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
	}, nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string { return c.model }

// Complete sends the conversation to Gemini.
func (c *GeminiClient) Complete(ctx context.Context, messages []Message, opts ...Option) (*Response, error) {
	o := Apply(opts...)
	system, turns := SplitSystem(messages, o)

	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini: no user content to send")
	}

	temp := c.temperature
	if o.Temperature != nil {
		temp = *o.Temperature
	}
	gc := &genai.GenerateContentConfig{Temperature: genai.Ptr(temp)}
	if system != "" {
		gc.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if o.JSON {
		gc.ResponseMIMEType = "application/json"
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	timer := logging.StartTimer(logging.CategoryAPI, "gemini.GenerateContent")
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, gc)
	timer.StopWithThreshold(30 * time.Second)
	if err != nil {
		logging.APIWarn("gemini request failed: %v", err)
		return nil, fmt.Errorf("gemini generate failed: %w", err)
	}

	text := resp.Text()
	logging.APIDebug("gemini reply: %d chars", len(text))
	return &Response{Content: []ContentPart{{Text: text}}, Model: c.model}, nil
}
