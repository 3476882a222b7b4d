package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/owulveryck/a2ahub/internal/agenthub"
	"github.com/owulveryck/a2ahub/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := agenthub.StartBroker(ctx, config.Load()); err != nil {
		panic(err)
	}
}
