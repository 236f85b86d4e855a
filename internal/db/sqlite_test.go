package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/RichardoC/tabletalk/internal/models"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	database, err := New(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func countMessages(ctx context.Context, database *Database, sessionID string) (int, error) {
	var n int
	err := database.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID).Scan(&n)
	return n, err
}

func TestTranscriptSeedsOnFirstAccess(t *testing.T) {
	database := newTestDatabase(t)
	ctx := context.Background()

	msgs, err := database.Transcript(ctx, "s1")
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected seed only, got %d messages", len(msgs))
	}
	if msgs[0].Role != models.RoleAssistant || msgs[0].Content != models.SeedGreeting {
		t.Fatalf("unexpected seed: %+v", msgs[0])
	}

	again, err := database.Transcript(ctx, "s1")
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(again) != 1 {
		t.Fatalf("seed must be written once, got %d messages", len(again))
	}
}

func TestAppendKeepsPairOrder(t *testing.T) {
	database := newTestDatabase(t)
	ctx := context.Background()

	for k := 1; k <= 3; k++ {
		if err := database.Append(ctx, "s1", fmt.Sprintf("q%d", k), "Hello"); err != nil {
			t.Fatalf("Append err: %v", err)
		}
		msgs, err := database.Transcript(ctx, "s1")
		if err != nil {
			t.Fatalf("Transcript err: %v", err)
		}
		if len(msgs) != 1+2*k {
			t.Fatalf("after %d cycles expected %d messages, got %d", k, 1+2*k, len(msgs))
		}
	}

	msgs, _ := database.Transcript(ctx, "s1")
	for i := 1; i < len(msgs); i += 2 {
		if msgs[i].Role != models.RoleUser || msgs[i+1].Role != models.RoleAssistant {
			t.Fatalf("pair %d out of order: %v, %v", i/2, msgs[i].Role, msgs[i+1].Role)
		}
	}
	if msgs[5].Content != "q3" {
		t.Fatalf("unexpected content order: %q", msgs[5].Content)
	}
}

func TestAppendRejectsBlankInput(t *testing.T) {
	database := newTestDatabase(t)
	ctx := context.Background()

	if err := database.Append(ctx, "s1", "   ", "Hello"); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	if err := database.Append(ctx, "", "hi", "Hello"); !errors.Is(err, ErrEmptySessionID) {
		t.Fatalf("expected ErrEmptySessionID, got %v", err)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	database := newTestDatabase(t)
	ctx := context.Background()

	if err := database.Append(ctx, "a", "hello", "Hello"); err != nil {
		t.Fatalf("Append err: %v", err)
	}
	msgs, err := database.Transcript(ctx, "b")
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("session b saw %d messages", len(msgs))
	}
}

func TestAppendUnansweredAndDelete(t *testing.T) {
	database := newTestDatabase(t)
	ctx := context.Background()

	if err := database.AppendUnanswered(ctx, "s1", "what is this data about?"); err != nil {
		t.Fatalf("AppendUnanswered err: %v", err)
	}
	n, err := countMessages(ctx, database, "s1")
	if err != nil {
		t.Fatalf("countMessages err: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected seed + user message, got %d", n)
	}

	if err := database.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession err: %v", err)
	}
	if n, _ := countMessages(ctx, database, "s1"); n != 0 {
		t.Fatalf("expected no messages after delete, got %d", n)
	}

	msgs, err := database.Transcript(ctx, "s1")
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected a fresh seeded transcript, got %d messages", len(msgs))
	}
}
