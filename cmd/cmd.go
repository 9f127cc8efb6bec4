// Package cmd provides the ragcore CLI commands.
//
// Commands:
//   - serve: HTTP API server with SSE streaming
//   - migrate: apply database migrations and exit
//   - version: print build information
//
// Signal handling and graceful shutdown are implemented via context
// cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ragcore/ragcore/internal/log"
)

// Execute is the main entry point for the ragcore application.
func Execute() error {
	// Initialize logger once at entry point
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: os.Getenv("LOG_FORMAT") == "json"})
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe(logger)
	case "migrate":
		return runMigrate(logger)
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("ragcore - retrieval-augmented completion service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  ragcore serve      Start the HTTP API server")
	fmt.Println("  ragcore migrate    Apply database migrations and exit")
	fmt.Println("  ragcore version    Show version information")
	fmt.Println("  ragcore help       Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  OPENAI_API_KEY         Required: completion backend API key")
	fmt.Println("  DATABASE_URL           Optional: overrides postgres_* config fields")
	fmt.Println("  RAGCORE_LISTEN_ADDR    Optional: listen address (default localhost:8080)")
	fmt.Println("  DEBUG                  Optional: enable debug logging")
	fmt.Println("  LOG_FORMAT             Optional: set to json for JSON logs")
	fmt.Println()
	fmt.Println("Configuration file: ~/.ragcore/config.yaml or ./config.yaml")
}
