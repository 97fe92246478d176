package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"parley/internal/database"
	"parley/internal/models"

	"github.com/google/uuid"
)

// TranscriptStore persists conversations, messages and summaries.
// It is the source of truth for message history and for the summary text.
type TranscriptStore struct {
	db        *database.DB
	bootstrap *database.SchemaBootstrapper
}

// NewTranscriptStore creates a new transcript store.
// The schema is created lazily by the first operation.
func NewTranscriptStore(db *database.DB) *TranscriptStore {
	return &TranscriptStore{
		db:        db,
		bootstrap: database.NewSchemaBootstrapper(db),
	}
}

// Ready runs schema bootstrap if it has not completed yet
func (s *TranscriptStore) Ready(ctx context.Context) error {
	return storageErr("bootstrap", s.bootstrap.Ensure(ctx))
}

// Ping checks the underlying database connection
func (s *TranscriptStore) Ping(ctx context.Context) error {
	return storageErr("ping", s.db.PingContext(ctx))
}

// EnsureConversation creates the conversation row if it does not exist
func (s *TranscriptStore) EnsureConversation(ctx context.Context, conversationID string, createdAt time.Time) error {
	if err := s.Ready(ctx); err != nil {
		return err
	}

	query := `INSERT OR IGNORE INTO conversations (id, created_at) VALUES (?, ?)`
	if s.db.Dialect == database.DialectMySQL {
		query = `INSERT IGNORE INTO conversations (id, created_at) VALUES (?, ?)`
	}

	_, err := s.db.ExecContext(ctx, query, conversationID, createdAt.UnixMicro())
	return storageErr("ensure conversation", err)
}

// GetConversation returns the conversation or ErrConversationNotFound
func (s *TranscriptStore) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}

	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM conversations WHERE id = ?`, conversationID,
	).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, storageErr("get conversation", err)
	}

	return &models.Conversation{ID: conversationID, CreatedAt: time.UnixMicro(createdAt)}, nil
}

// ConversationExists reports whether the conversation row exists
func (s *TranscriptStore) ConversationExists(ctx context.Context, conversationID string) (bool, error) {
	_, err := s.GetConversation(ctx, conversationID)
	if errors.Is(err, ErrConversationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Append inserts one immutable message and returns it
func (s *TranscriptStore) Append(ctx context.Context, conversationID, role, content string, createdAt time.Time) (*models.Message, error) {
	if role != models.RoleUser && role != models.RoleAssistant {
		return nil, NewValidationError("invalid message role %q", role)
	}
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.UnixMicro(createdAt.UnixMicro()),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, createdAt.UnixMicro(),
	)
	if err != nil {
		return nil, storageErr("append message", err)
	}

	return msg, nil
}

// RecentMessages returns at most limit of the newest messages, oldest first
func (s *TranscriptStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return []models.Message{}, nil
	}
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, created_at
		FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, storageErr("recent messages", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		var msg models.Message
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, storageErr("scan message", err)
		}
		msg.ConversationID = conversationID
		msg.CreatedAt = time.UnixMicro(createdAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("recent messages", err)
	}

	// Newest-first from the query, callers expect creation order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// CountMessages returns the number of stored messages in a conversation
func (s *TranscriptStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	if err := s.Ready(ctx); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_messages WHERE conversation_id = ?`, conversationID,
	).Scan(&count)
	if err != nil {
		return 0, storageErr("count messages", err)
	}
	return count, nil
}

// GetSummary returns the stored summary, or nil when none exists yet
func (s *TranscriptStore) GetSummary(ctx context.Context, conversationID string) (*models.Summary, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}

	summary := &models.Summary{ConversationID: conversationID}
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT summary, updated_at FROM conversation_summaries WHERE conversation_id = ?`, conversationID,
	).Scan(&summary.Summary, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get summary", err)
	}

	summary.UpdatedAt = time.UnixMicro(updatedAt)
	return summary, nil
}

// UpsertSummary writes the conversation's single summary row
func (s *TranscriptStore) UpsertSummary(ctx context.Context, conversationID, text string, updatedAt time.Time) error {
	if err := s.Ready(ctx); err != nil {
		return err
	}

	var query string
	switch s.db.Dialect {
	case database.DialectMySQL:
		query = `INSERT INTO conversation_summaries (conversation_id, summary, updated_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE summary = VALUES(summary), updated_at = VALUES(updated_at)`
	case database.DialectSQLite:
		query = `INSERT INTO conversation_summaries (conversation_id, summary, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(conversation_id) DO UPDATE SET summary = excluded.summary, updated_at = excluded.updated_at`
	default:
		return storageErr("upsert summary", fmt.Errorf("unsupported dialect %q", s.db.Dialect))
	}

	_, err := s.db.ExecContext(ctx, query, conversationID, text, updatedAt.UnixMicro())
	return storageErr("upsert summary", err)
}
