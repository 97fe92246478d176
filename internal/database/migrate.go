package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
)

// MigrationStats counts rows copied by CopyTranscripts
type MigrationStats struct {
	Conversations int
	Messages      int
	Summaries     int
	Errors        []string
}

// CopyTranscripts copies every conversation, message and summary from src into
// dst inside one transaction. Rows already present in dst are kept as they are,
// so the copy can be re-run after a partial failure.
func CopyTranscripts(ctx context.Context, src, dst *DB) (*MigrationStats, error) {
	if err := dst.InitializeContext(ctx); err != nil {
		return nil, err
	}

	tx, err := dst.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	stats := &MigrationStats{}

	// Parents before children (foreign keys)
	steps := []struct {
		name    string
		query   string
		columns []string
		count   *int
	}{
		{"conversations", `SELECT id, created_at FROM conversations ORDER BY created_at`,
			[]string{"id", "created_at"}, &stats.Conversations},
		{"conversation_messages", `SELECT id, conversation_id, role, content, created_at FROM conversation_messages ORDER BY conversation_id, created_at`,
			[]string{"id", "conversation_id", "role", "content", "created_at"}, &stats.Messages},
		{"conversation_summaries", `SELECT conversation_id, summary, updated_at FROM conversation_summaries`,
			[]string{"conversation_id", "summary", "updated_at"}, &stats.Summaries},
	}

	for _, step := range steps {
		log.Printf("📦 Migrating %s...", step.name)
		n, err := copyTable(ctx, src, tx, dst.Dialect, step.name, step.query, step.columns, stats)
		if err != nil {
			return stats, fmt.Errorf("%s migration failed: %w", step.name, err)
		}
		*step.count = n
		log.Printf("   ✅ Migrated %d %s", n, step.name)
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("failed to commit migration: %w", err)
	}
	return stats, nil
}

func copyTable(ctx context.Context, src *DB, tx *sql.Tx, dialect Dialect, table, query string, columns []string, stats *MigrationStats) (int, error) {
	rows, err := src.QueryContext(ctx, query)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			log.Println("   ⚠️  Table doesn't exist in source, skipping")
			return 0, nil
		}
		return 0, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	stmt, err := tx.PrepareContext(ctx, insertIgnore(dialect, table, columns))
	if err != nil {
		return 0, fmt.Errorf("prepare failed: %w", err)
	}
	defer stmt.Close()

	copied := 0
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for rows.Next() {
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s scan: %v", table, err))
			continue
		}

		res, err := stmt.ExecContext(ctx, values...)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s insert %v: %v", table, values[0], err))
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			copied++
		}
	}
	return copied, rows.Err()
}

func insertIgnore(dialect Dialect, table string, columns []string) string {
	verb := "INSERT OR IGNORE"
	if dialect == DialectMySQL {
		verb = "INSERT IGNORE"
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("%s INTO %s (%s) VALUES (%s)", verb, table, strings.Join(columns, ", "), placeholders)
}
