package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// @title           Container Invoker API
// @version         1.0
// @description     Runs single function invocations in ephemeral containers on the local engine or ECS Fargate.
// @host            localhost:8080
// @BasePath        /
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
