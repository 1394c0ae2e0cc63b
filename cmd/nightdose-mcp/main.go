package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nightdose/nightdose/internal/mcp"
)

const version = "v1.0.0"

// Serves the dose tools over stdio and relays every call to the nightdose daemon API
func main() {
	// Stdout carries the protocol; keep logs on stderr
	log.SetOutput(os.Stderr)

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	apiURL := os.Getenv("NIGHTDOSE_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8765"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := mcp.NewServer(mcp.NewClient(apiURL), version)
	log.Printf("[MCP] Serving dose tools, daemon at %s", apiURL)
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("[MCP] Server error: %v", err)
	}
}
