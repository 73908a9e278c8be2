package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"roadsafety/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp()
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}

	runErr := application.Run(ctx)
	if err := application.Close(); err != nil {
		log.Printf("Failed to release resources: %v", err)
	}
	if runErr != nil {
		log.Fatalf("Server stopped: %v", runErr)
	}
}
