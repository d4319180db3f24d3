package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"manuscript-ai-api/internal/config"
	"manuscript-ai-api/internal/wire"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting schema bootstrap...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	client, cleanup, err := wire.InitializePostgresOnly(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize postgres: %v", err)
	}
	defer cleanup()

	if err := client.AutoMigrate(ctx); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	fmt.Println("Bootstrap completed successfully.")
}
