package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/corvid-labs/corvus/internal/answer"
	"github.com/corvid-labs/corvus/internal/app"
	"github.com/corvid-labs/corvus/internal/config"
)

// runAsk answers a single question from the terminal.
func runAsk() error {
	askFlags := flag.NewFlagSet("ask", flag.ContinueOnError)
	askFlags.SetOutput(os.Stderr)
	owner := askFlags.String("owner", "", "Owner ID to scope retrieval to")
	stream := askFlags.Bool("stream", false, "Stream the answer as it generates")
	convID := askFlags.String("conversation", "", "Continue an existing conversation")

	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	if err := askFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing ask flags: %w", err)
	}

	query := strings.TrimSpace(strings.Join(askFlags.Args(), " "))
	if query == "" {
		return fmt.Errorf("no question given: corvus ask \"your question\"")
	}

	in := answer.Input{Query: query, Owner: *owner}
	if *convID != "" {
		id, err := uuid.Parse(*convID)
		if err != nil {
			return fmt.Errorf("invalid conversation ID %q: %w", *convID, err)
		}
		in.ConversationID = id
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	in.Retrieval = a.RetrievalOptions()

	var out *answer.Output
	if *stream {
		out, err = a.Answer.Stream(ctx, in, func(_ context.Context, chunk string) error {
			fmt.Print(chunk)
			return nil
		})
		fmt.Println()
	} else {
		out, err = a.Answer.Answer(ctx, in)
		if err == nil {
			fmt.Println(out.Text)
		}
	}
	if err != nil {
		return fmt.Errorf("answering: %w", err)
	}

	if len(out.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, src := range out.Sources {
			fmt.Printf("  [%d] %s (similarity %.2f)\n", src.Label, src.DocumentID, src.Similarity)
		}
	}
	if out.ConversationID != uuid.Nil {
		fmt.Printf("\nConversation: %s\n", out.ConversationID)
	}
	return nil
}
