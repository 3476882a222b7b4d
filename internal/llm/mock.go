package llm

import (
	"context"
	"sync"
)

// MockGenerator is a TextGenerator for tests.
// GenerateFunc decides the reply; when nil the prompt is echoed back.
type MockGenerator struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)

	mu         sync.Mutex
	callCount  int
	lastPrompt string
}

// NewMockGenerator creates a mock that always answers with reply.
func NewMockGenerator(reply string) *MockGenerator {
	return &MockGenerator{
		GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			return reply, nil
		},
	}
}

// NewFailingGenerator creates a mock whose every call fails with err.
func NewFailingGenerator(err error) *MockGenerator {
	return &MockGenerator{
		GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", err
		},
	}
}

func (m *MockGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.callCount++
	m.lastPrompt = prompt
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt)
	}
	return prompt, nil
}

func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *MockGenerator) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPrompt
}
