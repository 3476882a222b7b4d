package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("model returned no text")

// TextGenerator produces text from a prompt using a hosted generative model.
// Agents treat it as an unreliable collaborator and always keep a fallback.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}
