package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	// zona horaria del broker aunque el host no tenga tzdata
	_ "time/tzdata"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
