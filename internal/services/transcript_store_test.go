package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"parley/internal/database"
	"parley/internal/models"
)

func newTestTranscriptStore(t *testing.T) *TranscriptStore {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "transcripts.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewTranscriptStore(db)
}

func TestTranscriptStore_RecentMessagesAscending(t *testing.T) {
	store := newTestTranscriptStore(t)
	ctx := context.Background()
	convID := "conv-order"
	base := time.Now()

	if err := store.EnsureConversation(ctx, convID, base); err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}

	contents := []string{"first", "second", "third", "fourth"}
	for i, content := range contents {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		if _, err := store.Append(ctx, convID, role, content, base.Add(time.Duration(i)*time.Millisecond)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	messages, err := store.RecentMessages(ctx, convID, 10)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(messages) != len(contents) {
		t.Fatalf("Expected %d messages, got %d", len(contents), len(messages))
	}
	for i, msg := range messages {
		if msg.Content != contents[i] {
			t.Errorf("Position %d: expected %q, got %q", i, contents[i], msg.Content)
		}
		if i > 0 && msg.CreatedAt.Before(messages[i-1].CreatedAt) {
			t.Errorf("Position %d: timestamps out of order", i)
		}
	}

	// Limit keeps the newest messages, still oldest first
	tail, err := store.RecentMessages(ctx, convID, 2)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(tail) != 2 || tail[0].Content != "third" || tail[1].Content != "fourth" {
		t.Errorf("Expected [third fourth], got %+v", tail)
	}
}

func TestTranscriptStore_EnsureConversationIdempotent(t *testing.T) {
	store := newTestTranscriptStore(t)
	ctx := context.Background()
	created := time.Now().Add(-time.Hour)

	if err := store.EnsureConversation(ctx, "conv-1", created); err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}
	if err := store.EnsureConversation(ctx, "conv-1", time.Now()); err != nil {
		t.Fatalf("Second EnsureConversation failed: %v", err)
	}

	conv, err := store.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv.CreatedAt.UnixMicro() != created.UnixMicro() {
		t.Errorf("CreatedAt changed: expected %v, got %v", created, conv.CreatedAt)
	}

	exists, err := store.ConversationExists(ctx, "missing")
	if err != nil {
		t.Fatalf("ConversationExists failed: %v", err)
	}
	if exists {
		t.Error("Unknown conversation should not exist")
	}

	if _, err := store.GetConversation(ctx, "missing"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("Expected ErrConversationNotFound, got %v", err)
	}
}

func TestTranscriptStore_UpsertSummaryKeepsOneRow(t *testing.T) {
	store := newTestTranscriptStore(t)
	ctx := context.Background()
	convID := "conv-summary"

	if err := store.EnsureConversation(ctx, convID, time.Now()); err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}

	summary, err := store.GetSummary(ctx, convID)
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if summary != nil {
		t.Fatalf("Expected no summary yet, got %+v", summary)
	}

	first := time.Now()
	second := first.Add(5 * time.Second)
	if err := store.UpsertSummary(ctx, convID, "old text", first); err != nil {
		t.Fatalf("UpsertSummary failed: %v", err)
	}
	if err := store.UpsertSummary(ctx, convID, "new text", second); err != nil {
		t.Fatalf("UpsertSummary failed: %v", err)
	}

	var rows int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM conversation_summaries WHERE conversation_id = ?`, convID).Scan(&rows); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if rows != 1 {
		t.Errorf("Expected 1 summary row, got %d", rows)
	}

	summary, err = store.GetSummary(ctx, convID)
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if summary.Summary != "new text" {
		t.Errorf("Expected latest text, got %q", summary.Summary)
	}
	if summary.UpdatedAt.UnixMicro() != second.UnixMicro() {
		t.Errorf("Expected latest timestamp %v, got %v", second, summary.UpdatedAt)
	}
}

func TestTranscriptStore_CountAndValidation(t *testing.T) {
	store := newTestTranscriptStore(t)
	ctx := context.Background()

	if err := store.EnsureConversation(ctx, "conv-count", time.Now()); err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}
	if _, err := store.Append(ctx, "conv-count", models.RoleUser, "hi", time.Now()); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	count, err := store.CountMessages(ctx, "conv-count")
	if err != nil {
		t.Fatalf("CountMessages failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 message, got %d", count)
	}

	_, err = store.Append(ctx, "conv-count", "robot", "nope", time.Now())
	if KindOf(err) != KindValidation {
		t.Errorf("Expected validation error for bad role, got %v", err)
	}
}

func TestTranscriptStore_ErrorsAreStorageErrors(t *testing.T) {
	store := newTestTranscriptStore(t)
	store.db.Close()

	_, err := store.RecentMessages(context.Background(), "conv", 5)
	var storeErr *StorageError
	if !errors.As(err, &storeErr) {
		t.Fatalf("Expected *StorageError, got %T: %v", err, err)
	}
	if KindOf(err) != KindStorage {
		t.Errorf("Expected storage kind, got %s", KindOf(err))
	}
}
