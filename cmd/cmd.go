// Package cmd provides CLI commands for corvus.
//
// Commands:
//   - serve: HTTP API server with SSE streaming
//   - ingest: index documents, directories, or URLs
//   - ask: one-shot question answering from the terminal
//
// Signal handling and graceful shutdown are implemented for all commands
// via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/corvid-labs/corvus/internal/log"
)

// Execute is the main entry point for the corvus CLI application.
func Execute() error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(log.New(log.Config{Level: level}))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "ingest":
		return runIngest()
	case "ask":
		return runAsk()
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
	fmt.Println("Corvus - Retrieval-augmented question answering over your documents")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  corvus serve [addr]             Start HTTP API server (default: :8080)")
	fmt.Println("  corvus ingest <path>...         Index documents or directories")
	fmt.Println("  corvus ingest --url <url>       Index a web page")
	fmt.Println("  corvus ask \"question\"           Answer a question from indexed documents")
	fmt.Println("  corvus --version                Show version information")
	fmt.Println("  corvus --help                   Show this help")
	fmt.Println()
	fmt.Println("Common flags:")
	fmt.Println("  --owner <id>                    Scope documents and queries to an owner")
	fmt.Println()
	fmt.Println("Ask flags:")
	fmt.Println("  --stream                        Stream the answer as it generates")
	fmt.Println("  --conversation <id>             Continue an existing conversation")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY                  Required for the gemini provider")
	fmt.Println("  DATABASE_URL                    Override PostgreSQL connection settings")
	fmt.Println("  DEBUG                           Enable debug logging")
}
