package vertexai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/owulveryck/a2ahub/internal/llm"
)

// Config holds the configuration for the VertexAI client
type Config struct {
	Project  string
	Location string
	Model    string
	Timeout  time.Duration
}

// Client implements llm.TextGenerator using Vertex AI.
type Client struct {
	config *Config
	client *genai.Client
	logger *slog.Logger
}

// NewClient creates a new VertexAI client.
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.Project == "" {
		return nil, fmt.Errorf("vertex ai project is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  config.Project,
		Location: config.Location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	return &Client{
		config: config,
		client: genaiClient,
		logger: logger,
	}, nil
}

// GenerateText sends prompt to the configured model and returns the text of
// the first candidate.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	c.logger.DebugContext(ctx, "Calling Vertex AI", "model", c.config.Model, "prompt_length", len(prompt))

	result, err := c.client.Models.GenerateContent(ctx, c.config.Model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	if len(result.Candidates) > 0 && result.Candidates[0].Content != nil {
		var sb strings.Builder
		for _, part := range result.Candidates[0].Content.Parts {
			if part != nil {
				sb.WriteString(part.Text)
			}
		}
		if sb.Len() > 0 {
			return sb.String(), nil
		}
	}
	return "", llm.ErrEmptyResponse
}

var _ llm.TextGenerator = (*Client)(nil)
