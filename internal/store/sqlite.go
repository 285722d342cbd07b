package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"github.com/comigor/chatbot-go/internal/logger"
)

// SQLiteStore implements Store on a single SQLite file. A conversation is
// spread over a conversations row and its messages rows; every operation on
// it runs in one statement or one transaction.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (and creates if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	log := logger.For(nil, "store")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serialises writers; SQLite would do so anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: log}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	log.Info("sqlite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			chat_id    TEXT PRIMARY KEY,
			bot_id     TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_bot ON conversations(bot_id);

		CREATE TABLE IF NOT EXISTS messages (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id    TEXT NOT NULL REFERENCES conversations(chat_id),
			message_id TEXT NOT NULL,
			type       TEXT NOT NULL,
			message    TEXT NOT NULL,
			versions   TEXT NOT NULL DEFAULT '[]',
			is_deleted INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			UNIQUE (chat_id, message_id),
			CHECK (type IN ('user', 'assistant'))
		);

		CREATE TABLE IF NOT EXISTS bots (
			id                    TEXT PRIMARY KEY,
			headline              TEXT NOT NULL,
			starter_message       TEXT NOT NULL,
			secondary_description TEXT,
			logo                  TEXT,
			admin_password        TEXT NOT NULL,
			created_at            TEXT NOT NULL,
			updated_at            TEXT NOT NULL
		);
	`)
	return err
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

// isConstraintViolation checks if the error is a SQLite UNIQUE/PRIMARY KEY violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

func (s *SQLiteStore) GetConversation(ctx context.Context, chatID string) (*Conversation, error) {
	return s.loadConversation(ctx, `SELECT chat_id, bot_id, created_at, updated_at FROM conversations WHERE chat_id = ?`, chatID)
}

func (s *SQLiteStore) GetConversationForBot(ctx context.Context, chatID, botID string) (*Conversation, error) {
	return s.loadConversation(ctx, `SELECT chat_id, bot_id, created_at, updated_at FROM conversations WHERE chat_id = ? AND bot_id = ?`, chatID, botID)
}

func (s *SQLiteStore) loadConversation(ctx context.Context, query string, args ...any) (*Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning read: %w", err)
	}
	defer tx.Rollback()

	conv := &Conversation{}
	var created, updated string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&conv.ChatID, &conv.BotID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	if conv.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT message_id, type, message, versions, is_deleted, created_at, updated_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY seq ASC
	`, conv.ChatID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	conv.Messages = []Message{}
	for rows.Next() {
		var m Message
		var msgType, versions, mCreated, mUpdated string
		if err := rows.Scan(&m.MessageID, &msgType, &m.Message, &versions, &m.IsDeleted, &mCreated, &mUpdated); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		m.Type = MessageType(msgType)
		if err := json.Unmarshal([]byte(versions), &m.Versions); err != nil {
			return nil, fmt.Errorf("decoding versions of %s: %w", m.MessageID, err)
		}
		if m.CreatedAt, err = parseTime(mCreated); err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		if m.UpdatedAt, err = parseTime(mUpdated); err != nil {
			return nil, fmt.Errorf("parsing message updated_at: %w", err)
		}
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (chat_id, bot_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		conv.ChatID, conv.BotID, formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt))
	if isConstraintViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	if err := insertMessages(ctx, tx, conv.ChatID, conv.Messages); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("conversation created", "chat_id", conv.ChatID, "bot_id", conv.BotID)
	return nil
}

func (s *SQLiteStore) PushMessages(ctx context.Context, chatID string, msgs []Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE chat_id = ?`, formatTime(time.Now()), chatID)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := insertMessages(ctx, tx, chatID, msgs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing messages: %w", err)
	}

	s.logger.Debug("messages appended", "chat_id", chatID, "count", len(msgs))
	return nil
}

func insertMessages(ctx context.Context, tx *sql.Tx, chatID string, msgs []Message) error {
	for _, m := range msgs {
		versions := m.Versions
		if versions == nil {
			versions = []string{}
		}
		encoded, err := json.Marshal(versions)
		if err != nil {
			return fmt.Errorf("encoding versions: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (chat_id, message_id, type, message, versions, is_deleted, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, chatID, m.MessageID, string(m.Type), m.Message, string(encoded), m.IsDeleted,
			formatTime(m.CreatedAt), formatTime(m.UpdatedAt))
		if isConstraintViolation(err) {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("inserting message %s: %w", m.MessageID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) SetMessageContent(ctx context.Context, chatID, messageID, content string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET message = ?, versions = json_insert(versions, '$[#]', ?), updated_at = ?
		WHERE chat_id = ? AND message_id = ?
	`, content, content, formatTime(at), chatID, messageID)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) MarkMessageDeleted(ctx context.Context, chatID, messageID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET updated_at = CASE WHEN is_deleted = 0 THEN ? ELSE updated_at END, is_deleted = 1
		WHERE chat_id = ? AND message_id = ?
	`, formatTime(at), chatID, messageID)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateBot(ctx context.Context, bot *Bot) error {
	starter, err := json.Marshal(bot.StarterMessage)
	if err != nil {
		return fmt.Errorf("encoding starter message: %w", err)
	}
	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bots (id, headline, starter_message, secondary_description, logo, admin_password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, bot.Headline, string(starter), bot.SecondaryDescription, bot.Logo, bot.AdminPasswordHash,
		formatTime(bot.CreatedAt), formatTime(bot.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting bot: %w", err)
	}
	bot.ID = id
	return nil
}

const botColumns = `id, headline, starter_message, secondary_description, logo, admin_password, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(row rowScanner) (*Bot, error) {
	bot := &Bot{}
	var starter, created, updated string
	if err := row.Scan(&bot.ID, &bot.Headline, &starter, &bot.SecondaryDescription, &bot.Logo,
		&bot.AdminPasswordHash, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(starter), &bot.StarterMessage); err != nil {
		return nil, fmt.Errorf("decoding starter message: %w", err)
	}
	var err error
	if bot.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if bot.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return bot, nil
}

func (s *SQLiteStore) GetBot(ctx context.Context, id string) (*Bot, error) {
	bot, err := scanBot(s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying bot: %w", err)
	}
	return bot, nil
}

func (s *SQLiteStore) ListBots(ctx context.Context) ([]*Bot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+botColumns+` FROM bots ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying bots: %w", err)
	}
	defer rows.Close()

	bots := []*Bot{}
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bot row: %w", err)
		}
		bots = append(bots, bot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bot rows: %w", err)
	}
	return bots, nil
}

func (s *SQLiteStore) UpdateBot(ctx context.Context, id string, upd BotUpdate, at time.Time) (*Bot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	bot, err := scanBot(tx.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying bot: %w", err)
	}

	upd.Apply(bot)
	bot.UpdatedAt = at
	starter, err := json.Marshal(bot.StarterMessage)
	if err != nil {
		return nil, fmt.Errorf("encoding starter message: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE bots
		SET headline = ?, starter_message = ?, secondary_description = ?, logo = ?, updated_at = ?
		WHERE id = ?
	`, bot.Headline, string(starter), bot.SecondaryDescription, bot.Logo, formatTime(at), id)
	if err != nil {
		return nil, fmt.Errorf("updating bot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing bot: %w", err)
	}
	return bot, nil
}

func (s *SQLiteStore) DeleteBot(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting bot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
