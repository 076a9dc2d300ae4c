package llm

import (
	"context"
	"testing"
	"time"
)

func TestCallContextBoundsDeadline(t *testing.T) {
	ctx, cancel := callContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline on the call context")
	}
	if remaining := time.Until(deadline); remaining > generateTimeout {
		t.Errorf("deadline %v away, want at most %v", remaining, generateTimeout)
	}
}

func TestCallContextKeepsTighterDeadline(t *testing.T) {
	parent, parentCancel := context.WithTimeout(context.Background(), time.Second)
	defer parentCancel()

	ctx, cancel := callContext(parent)
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline on the call context")
	}
	if remaining := time.Until(deadline); remaining > time.Second {
		t.Errorf("deadline %v away, want the parent's tighter bound", remaining)
	}
}
