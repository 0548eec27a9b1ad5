// Package history stores chat transcripts in SQLite.
package history

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// chatIDPattern is the only shape of chat id the store accepts; anything
// else is rejected before it reaches a query.
var chatIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ErrInvalidChatID is returned for chat ids outside the allowed alphabet.
var ErrInvalidChatID = fmt.Errorf("invalid chat_id")

// Message is one transcript entry.
type Message struct {
	ID        int64     `db:"id" json:"-"`
	ChatID    string    `db:"chat_id" json:"chat_id"`
	Role      string    `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"timestamp"`
}

// ChatSummary is one row of the chat list.
type ChatSummary struct {
	ChatID       string    `db:"chat_id" json:"chat_id"`
	Title        string    `db:"title" json:"title"`
	MessageCount int       `db:"message_count" json:"message_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// SearchResult is one matching chat with snippets around the matches.
type SearchResult struct {
	ChatSummary
	MatchCount int      `json:"match_count"`
	Snippets   []string `json:"snippets"`
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id);
`

// Store is the SQLite-backed transcript store.
type Store struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewStore opens (and migrates) the transcript database at path.
func NewStore(path string, log *logger.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// SQLite supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: db, logger: log}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append adds one message to a chat's transcript. Role must be user or
// assistant.
func (s *Store) Append(ctx context.Context, chatID, role, content string) error {
	if !chatIDPattern.MatchString(chatID) {
		return ErrInvalidChatID
	}
	if role != "user" && role != "assistant" {
		return fmt.Errorf("role must be %q or %q", "user", "assistant")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (chat_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		chatID, role, content, time.Now().UTC())
	return err
}

// Load returns a chat's transcript in insertion order. A chat with no
// messages yields an empty slice.
func (s *Store) Load(ctx context.Context, chatID string) ([]Message, error) {
	if !chatIDPattern.MatchString(chatID) {
		return nil, ErrInvalidChatID
	}
	messages := []Message{}
	err := s.db.SelectContext(ctx, &messages,
		`SELECT id, chat_id, role, content, created_at FROM messages WHERE chat_id = ? ORDER BY id`,
		chatID)
	return messages, err
}

// Delete removes a chat's transcript and reports whether anything existed.
func (s *Store) Delete(ctx context.Context, chatID string) (bool, error) {
	if !chatIDPattern.MatchString(chatID) {
		return false, ErrInvalidChatID
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// summaryRow carries the aggregate timestamps as text: MIN/MAX strip the
// column's DATETIME decltype, so the driver returns the stored string
// instead of a time.Time.
type summaryRow struct {
	ChatID       string `db:"chat_id"`
	MessageCount int    `db:"message_count"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

// List returns summaries of all non-empty chats, most recently updated
// first. The title is the first user message, truncated.
func (s *Store) List(ctx context.Context) ([]ChatSummary, error) {
	rows := []summaryRow{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT chat_id,
		       COUNT(*) AS message_count,
		       MIN(created_at) AS created_at,
		       MAX(created_at) AS updated_at
		FROM messages
		GROUP BY chat_id
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	summaries := make([]ChatSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, ChatSummary{
			ChatID:       row.ChatID,
			Title:        s.chatTitle(ctx, row.ChatID),
			MessageCount: row.MessageCount,
			CreatedAt:    parseTimestamp(row.CreatedAt),
			UpdatedAt:    parseTimestamp(row.UpdatedAt),
		})
	}
	return summaries, nil
}

// timestampLayouts are the on-disk shapes the driver writes for DATETIME
// values, most specific first.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseTimestamp(value string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Search scans message content for a case-insensitive substring and returns
// matching chats with snippets around the first matches.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchResult{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	summaries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	results := []SearchResult{}
	for _, summary := range summaries {
		if len(results) >= limit {
			break
		}
		messages, err := s.Load(ctx, summary.ChatID)
		if err != nil {
			return nil, err
		}
		var snippets []string
		for _, msg := range messages {
			if idx := strings.Index(strings.ToLower(msg.Content), needle); idx >= 0 {
				snippets = append(snippets, snippet(msg.Content, idx, len(query)))
			}
		}
		if len(snippets) > 0 {
			result := SearchResult{ChatSummary: summary, MatchCount: len(snippets)}
			if len(snippets) > 3 {
				snippets = snippets[:3]
			}
			result.Snippets = snippets
			results = append(results, result)
		}
	}
	return results, nil
}

func (s *Store) chatTitle(ctx context.Context, chatID string) string {
	var content string
	err := s.db.GetContext(ctx, &content,
		`SELECT content FROM messages WHERE chat_id = ? AND role = 'user' ORDER BY id LIMIT 1`,
		chatID)
	if err != nil || content == "" {
		return "New Chat"
	}
	if len(content) > 50 {
		return content[:50] + "..."
	}
	return content
}

func snippet(content string, idx, matchLen int) string {
	start := idx - 60
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + 60
	if end > len(content) {
		end = len(content)
	}
	out := content[start:end]
	if start > 0 {
		out = "…" + out
	}
	if end < len(content) {
		out += "…"
	}
	return out
}
