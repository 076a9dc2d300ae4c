package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/corvid-labs/corvus/internal/log"
	"github.com/corvid-labs/corvus/internal/testutil"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	testDB, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	store, err := NewStore(testDB.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestConversationLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if conv.ID == uuid.Nil || conv.CreatedAt.IsZero() {
		t.Errorf("conversation not initialized: %+v", conv)
	}

	if err := store.AppendMessage(ctx, conv.ID, Message{
		Role: RoleUser, Content: "what is a goroutine?",
	}); err != nil {
		t.Fatalf("AppendMessage user: %v", err)
	}
	if err := store.AppendMessage(ctx, conv.ID, Message{
		Role:    RoleAssistant,
		Content: "A goroutine is a lightweight thread. [1]",
		Sources: []SourceRef{{ChunkID: uuid.New(), DocumentID: uuid.New(), Similarity: 0.91}},
	}); err != nil {
		t.Fatalf("AppendMessage assistant: %v", err)
	}

	msgs, err := store.Messages(ctx, conv.ID, 0)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("order wrong: %v, %v", msgs[0].Role, msgs[1].Role)
	}
	if len(msgs[1].Sources) != 1 || msgs[1].Sources[0].Similarity != 0.91 {
		t.Errorf("sources not round-tripped: %+v", msgs[1].Sources)
	}
	if len(msgs[0].Sources) != 0 {
		t.Errorf("user message has sources: %+v", msgs[0].Sources)
	}

	if err := store.Delete(ctx, conv.ID, "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, conv.ID, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
}

func TestConversationOwnership(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.Get(ctx, conv.ID, "bob"); !errors.Is(err, ErrForbidden) {
		t.Errorf("cross-owner Get = %v, want ErrForbidden", err)
	}
	if err := store.Delete(ctx, conv.ID, "bob"); !errors.Is(err, ErrForbidden) {
		t.Errorf("cross-owner Delete = %v, want ErrForbidden", err)
	}
	if err := store.UpdateTitle(ctx, conv.ID, "bob", "stolen"); !errors.Is(err, ErrForbidden) {
		t.Errorf("cross-owner UpdateTitle = %v, want ErrForbidden", err)
	}

	if err := store.UpdateTitle(ctx, conv.ID, "alice", "goroutines 101"); err != nil {
		t.Fatalf("UpdateTitle: %v", err)
	}
	got, err := store.Get(ctx, conv.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "goroutines 101" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestMessagesLimitKeepsMostRecent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	for i := range 6 {
		if err := store.AppendMessage(ctx, conv.ID, Message{
			Role: RoleUser, Content: fmt.Sprintf("turn %d", i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := store.Messages(ctx, conv.ID, 4)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	// The window covers the latest turns, oldest of them first.
	if msgs[0].Content != "turn 2" || msgs[3].Content != "turn 5" {
		t.Errorf("window = [%q .. %q], want [turn 2 .. turn 5]", msgs[0].Content, msgs[3].Content)
	}
}

func TestAppendToMissingConversation(t *testing.T) {
	store := setupStore(t)

	err := store.AppendMessage(context.Background(), uuid.New(), Message{
		Role: RoleUser, Content: "hello?",
	})
	if err == nil {
		t.Fatal("expected error for missing conversation")
	}
}

func TestListOrdering(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}

	// Touching the first conversation makes it most recently active.
	if err := store.AppendMessage(ctx, first.ID, Message{Role: RoleUser, Content: "ping"}); err != nil {
		t.Fatal(err)
	}

	convs, err := store.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations", len(convs))
	}
	if convs[0].ID != first.ID {
		t.Errorf("most recently active not first: %v", convs)
	}
	_ = second
}
