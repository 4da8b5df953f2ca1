package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/triage-console/internal/domain"
)

func newMemoryStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(MemoryDSN)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestAppendAndListTurns(t *testing.T) {
	t.Parallel()

	repo := newMemoryStore(t)
	ctx := context.Background()

	for i, content := range []string{"bonjour", "Voici les résultats.", "merci"} {
		role := "user"
		if i == 1 {
			role = "assistant"
		}
		if err := repo.AppendTurn(ctx, &domain.Turn{
			ConversationID: "conv-1",
			MessageID:      content,
			Role:           role,
			Content:        content,
		}); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}
	if err := repo.AppendTurn(ctx, &domain.Turn{ConversationID: "conv-2", Role: "user", Content: "other"}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	turns, err := repo.ListTurns(ctx, "conv-1", 0)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	if turns[0].Content != "bonjour" || turns[2].Content != "merci" {
		t.Fatalf("turns out of order: %q .. %q", turns[0].Content, turns[2].Content)
	}
	if turns[1].PayloadJSON != "{}" {
		t.Fatalf("default payload = %q", turns[1].PayloadJSON)
	}

	last, err := repo.ListTurns(ctx, "conv-1", 2)
	if err != nil {
		t.Fatalf("ListTurns limit: %v", err)
	}
	if len(last) != 2 || last[0].Content != "Voici les résultats." || last[1].Content != "merci" {
		t.Fatalf("limit must keep the most recent turns in order, got %+v", last)
	}
}

func TestAppendTurnRequiresConversation(t *testing.T) {
	t.Parallel()

	repo := newMemoryStore(t)
	if err := repo.AppendTurn(context.Background(), &domain.Turn{Role: "user"}); err == nil {
		t.Fatal("expected error for empty conversation id")
	}
}

func TestDeleteAndCleanup(t *testing.T) {
	t.Parallel()

	repo := newMemoryStore(t)
	ctx := context.Background()

	old := &domain.Turn{ConversationID: "c", Role: "user", Content: "old", CreatedAt: time.Now().Add(-2 * time.Hour)}
	fresh := &domain.Turn{ConversationID: "c", Role: "user", Content: "fresh"}
	for _, turn := range []*domain.Turn{old, fresh} {
		if err := repo.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	removed, err := repo.CleanupExpiredTurns(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpiredTurns: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d turns, want 1", removed)
	}

	removed, err = repo.DeleteConversation(ctx, "c")
	if err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if removed != 1 {
		t.Fatalf("deleted %d turns, want 1", removed)
	}
}

func TestFileBackedStore(t *testing.T) {
	t.Parallel()

	repo, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer func() { _ = repo.Close() }()

	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestIsBusy(t *testing.T) {
	t.Parallel()

	if !isBusy(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Error("expected busy error to match")
	}
	if isBusy(errors.New("no such table")) || isBusy(nil) {
		t.Error("unexpected match")
	}
}
