package main

import (
	"context"
	"testing"

	"github.com/owulveryck/a2ahub/internal/a2a"
)

func TestEcho(t *testing.T) {
	out, err := echo(context.Background(), a2a.Payload{"action": "echo", "text": "hello world"})
	if err != nil {
		t.Fatalf("echo failed: %v", err)
	}
	if out["text"] != "Echo: hello world" || out["input"] != "hello world" {
		t.Errorf("Unexpected reply %v", out)
	}

	if _, err := echo(context.Background(), a2a.Payload{"action": "echo"}); err == nil {
		t.Error("Expected an error without text")
	}
}
