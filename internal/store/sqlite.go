// Package store persists conversations, messages, and imported models in a
// local SQLite database and enforces the history invariants: messages form a
// gap-free position sequence, removal is suffix-only and atomic, and edits
// invalidate everything after the edited message.
package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"chatd/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS models (
	id          TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	path        TEXT NOT NULL UNIQUE,
	size_bytes  INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	model_id   TEXT REFERENCES models(id) ON DELETE SET NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	position        INTEGER NOT NULL,
	role            TEXT NOT NULL,
	text            TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	edited_at       INTEGER,
	outdated        INTEGER NOT NULL DEFAULT 0,
	UNIQUE (conversation_id, position)
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, position);
`

// SQLite is the durable conversation store.
type SQLite struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for tests.
func Open(path string, log zerolog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ioFailure("open", err)
	}
	// modernc sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, ioFailure("pragma", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, ioFailure("schema", err)
	}
	return &SQLite{db: db, log: log, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ioFailure(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return ioFailure(op, err)
	}
	return nil
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func touch(tx *sql.Tx, convID uuid.UUID, at time.Time) error {
	_, err := tx.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, millis(at), convID.String())
	return err
}

// ------------------------------------------------------------------ models

// UpsertModel records a model file keyed by its path, refreshing display
// metadata when the path is already known.
func (s *SQLite) UpsertModel(ctx context.Context, displayName, path string, sizeBytes int64) (types.ModelFile, error) {
	var out types.ModelFile
	err := s.withTx(ctx, "upsert model", func(tx *sql.Tx) error {
		var id string
		var createdAt int64
		err := tx.QueryRow(`SELECT id, created_at FROM models WHERE path = ?`, path).Scan(&id, &createdAt)
		switch {
		case err == sql.ErrNoRows:
			out = types.ModelFile{
				ID:          uuid.New(),
				DisplayName: displayName,
				Path:        path,
				SizeBytes:   sizeBytes,
				CreatedAt:   s.now().UTC(),
			}
			_, err = tx.Exec(`INSERT INTO models (id, display_name, path, size_bytes, created_at) VALUES (?, ?, ?, ?, ?)`,
				out.ID.String(), out.DisplayName, out.Path, out.SizeBytes, millis(out.CreatedAt))
			if err != nil {
				return ioFailure("insert model", err)
			}
			return nil
		case err != nil:
			return ioFailure("select model", err)
		}
		out = types.ModelFile{
			ID:          uuid.MustParse(id),
			DisplayName: displayName,
			Path:        path,
			SizeBytes:   sizeBytes,
			CreatedAt:   fromMillis(createdAt),
		}
		if _, err := tx.Exec(`UPDATE models SET display_name = ?, size_bytes = ? WHERE id = ?`,
			displayName, sizeBytes, id); err != nil {
			return ioFailure("update model", err)
		}
		return nil
	})
	return out, err
}

// Models lists imported models, newest first.
func (s *SQLite) Models(ctx context.Context) ([]types.ModelFile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, display_name, path, size_bytes, created_at FROM models ORDER BY created_at DESC`)
	if err != nil {
		return nil, ioFailure("list models", err)
	}
	defer rows.Close()
	out := []types.ModelFile{}
	for rows.Next() {
		var id string
		var m types.ModelFile
		var createdAt int64
		if err := rows.Scan(&id, &m.DisplayName, &m.Path, &m.SizeBytes, &createdAt); err != nil {
			return nil, ioFailure("scan model", err)
		}
		m.ID = uuid.MustParse(id)
		m.CreatedAt = fromMillis(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Model returns one model by id.
func (s *SQLite) Model(ctx context.Context, id uuid.UUID) (types.ModelFile, error) {
	var m types.ModelFile
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `SELECT display_name, path, size_bytes, created_at FROM models WHERE id = ?`, id.String()).
		Scan(&m.DisplayName, &m.Path, &m.SizeBytes, &createdAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound("model", id.String())
	}
	if err != nil {
		return m, ioFailure("select model", err)
	}
	m.ID = id
	m.CreatedAt = fromMillis(createdAt)
	return m, nil
}

// ---------------------------------------------------------- conversations

// CreateConversation creates a conversation; an empty title gets the
// placeholder that title derivation later replaces.
func (s *SQLite) CreateConversation(ctx context.Context, title string, modelID *uuid.UUID) (types.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	now := s.now().UTC()
	conv := types.Conversation{
		ID:        uuid.New(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		ModelID:   modelID,
	}
	var mid any
	if modelID != nil {
		mid = modelID.String()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO conversations (id, title, created_at, updated_at, model_id) VALUES (?, ?, ?, ?, ?)`,
		conv.ID.String(), conv.Title, millis(now), millis(now), mid)
	if err != nil {
		return types.Conversation{}, ioFailure("insert conversation", err)
	}
	return conv, nil
}

// Conversations lists conversations, most recently touched first.
func (s *SQLite) Conversations(ctx context.Context) ([]types.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, created_at, updated_at, model_id FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, ioFailure("list conversations", err)
	}
	defer rows.Close()
	out := []types.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanConversation(r rowScanner) (types.Conversation, error) {
	var c types.Conversation
	var id string
	var createdAt, updatedAt int64
	var modelID sql.NullString
	if err := r.Scan(&id, &c.Title, &createdAt, &updatedAt, &modelID); err != nil {
		if err == sql.ErrNoRows {
			return c, err
		}
		return c, ioFailure("scan conversation", err)
	}
	c.ID = uuid.MustParse(id)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	if modelID.Valid {
		mid := uuid.MustParse(modelID.String)
		c.ModelID = &mid
	}
	return c, nil
}

// Conversation returns one conversation by id.
func (s *SQLite) Conversation(ctx context.Context, id uuid.UUID) (types.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, created_at, updated_at, model_id FROM conversations WHERE id = ?`, id.String())
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return c, ErrNotFound("conversation", id.String())
	}
	return c, err
}

// RenameConversation sets a new explicit title.
func (s *SQLite) RenameConversation(ctx context.Context, id uuid.UUID, title string) error {
	return s.withTx(ctx, "rename conversation", func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
			title, millis(s.now().UTC()), id.String())
		if err != nil {
			return ioFailure("rename conversation", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound("conversation", id.String())
		}
		return nil
	})
}

// DeleteConversation removes a conversation and, via cascade, its messages.
func (s *SQLite) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id.String())
	if err != nil {
		return ioFailure("delete conversation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound("conversation", id.String())
	}
	return nil
}

// SetModel binds (or clears, with nil) the conversation's model.
func (s *SQLite) SetModel(ctx context.Context, convID uuid.UUID, modelID *uuid.UUID) error {
	return s.withTx(ctx, "set model", func(tx *sql.Tx) error {
		var mid any
		if modelID != nil {
			var probe string
			if err := tx.QueryRow(`SELECT id FROM models WHERE id = ?`, modelID.String()).Scan(&probe); err == sql.ErrNoRows {
				return ErrNotFound("model", modelID.String())
			} else if err != nil {
				return ioFailure("select model", err)
			}
			mid = modelID.String()
		}
		res, err := tx.Exec(`UPDATE conversations SET model_id = ?, updated_at = ? WHERE id = ?`,
			mid, millis(s.now().UTC()), convID.String())
		if err != nil {
			return ioFailure("set model", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound("conversation", convID.String())
		}
		return nil
	})
}

// --------------------------------------------------------------- messages

// Append creates a message at the tail of the conversation. A first user
// message replaces the placeholder title via SuggestTitle.
func (s *SQLite) Append(ctx context.Context, convID uuid.UUID, role types.Role, text string) (types.Message, error) {
	var out types.Message
	err := s.withTx(ctx, "append", func(tx *sql.Tx) error {
		var title string
		err := tx.QueryRow(`SELECT title FROM conversations WHERE id = ?`, convID.String()).Scan(&title)
		if err == sql.ErrNoRows {
			return ErrNotFound("conversation", convID.String())
		}
		if err != nil {
			return ioFailure("select conversation", err)
		}
		var next int
		if err := tx.QueryRow(`SELECT COALESCE(MAX(position) + 1, 0) FROM messages WHERE conversation_id = ?`, convID.String()).Scan(&next); err != nil {
			return ioFailure("next position", err)
		}
		now := s.now().UTC()
		out = types.Message{
			ID:             uuid.New(),
			ConversationID: convID,
			Role:           role,
			Text:           text,
			CreatedAt:      now,
			Position:       next,
		}
		if _, err := tx.Exec(`INSERT INTO messages (id, conversation_id, position, role, text, created_at, outdated) VALUES (?, ?, ?, ?, ?, ?, 0)`,
			out.ID.String(), convID.String(), next, string(role), text, millis(now)); err != nil {
			return ioFailure("insert message", err)
		}
		if role == types.RoleUser && title == DefaultTitle {
			if derived := SuggestTitle(text); derived != DefaultTitle {
				if _, err := tx.Exec(`UPDATE conversations SET title = ? WHERE id = ?`, derived, convID.String()); err != nil {
					return ioFailure("derive title", err)
				}
			}
		}
		return touch(tx, convID, now)
	})
	return out, err
}

// Messages returns the conversation's ordered history.
func (s *SQLite) Messages(ctx context.Context, convID uuid.UUID) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, conversation_id, position, role, text, created_at, edited_at, outdated FROM messages WHERE conversation_id = ? ORDER BY position`, convID.String())
	if err != nil {
		return nil, ioFailure("list messages", err)
	}
	defer rows.Close()
	out := []types.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(r rowScanner) (types.Message, error) {
	var m types.Message
	var id, convID, role string
	var createdAt int64
	var editedAt sql.NullInt64
	var outdated int
	if err := r.Scan(&id, &convID, &m.Position, &role, &m.Text, &createdAt, &editedAt, &outdated); err != nil {
		if err == sql.ErrNoRows {
			return m, err
		}
		return m, ioFailure("scan message", err)
	}
	m.ID = uuid.MustParse(id)
	m.ConversationID = uuid.MustParse(convID)
	m.Role = types.Role(role)
	m.CreatedAt = fromMillis(createdAt)
	if editedAt.Valid {
		t := fromMillis(editedAt.Int64)
		m.EditedAt = &t
	}
	m.Outdated = outdated != 0
	return m, nil
}

// Message returns one message by id.
func (s *SQLite) Message(ctx context.Context, id uuid.UUID) (types.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, conversation_id, position, role, text, created_at, edited_at, outdated FROM messages WHERE id = ?`, id.String())
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return m, ErrNotFound("message", id.String())
	}
	return m, err
}

// messageRef locates a message's conversation and position inside a tx.
func messageRef(tx *sql.Tx, id uuid.UUID) (convID uuid.UUID, position int, err error) {
	var conv string
	err = tx.QueryRow(`SELECT conversation_id, position FROM messages WHERE id = ?`, id.String()).Scan(&conv, &position)
	if err == sql.ErrNoRows {
		return uuid.Nil, 0, ErrNotFound("message", id.String())
	}
	if err != nil {
		return uuid.Nil, 0, ioFailure("select message", err)
	}
	return uuid.MustParse(conv), position, nil
}

// snapshot reads the ordered (id, position) projection of a conversation.
func snapshot(tx *sql.Tx, convID uuid.UUID) ([]types.Message, error) {
	rows, err := tx.Query(`SELECT id, position FROM messages WHERE conversation_id = ? ORDER BY position`, convID.String())
	if err != nil {
		return nil, ioFailure("snapshot", err)
	}
	defer rows.Close()
	var out []types.Message
	for rows.Next() {
		var id string
		var m types.Message
		if err := rows.Scan(&id, &m.Position); err != nil {
			return nil, ioFailure("scan snapshot", err)
		}
		m.ID = uuid.MustParse(id)
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateText replaces a message's text without edit semantics. Used by the
// generation session for streaming snapshots; each persisted snapshot is a
// prefix-or-equal of the next.
func (s *SQLite) UpdateText(ctx context.Context, id uuid.UUID, text string) error {
	return s.withTx(ctx, "update text", func(tx *sql.Tx) error {
		convID, _, err := messageRef(tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE messages SET text = ? WHERE id = ?`, text, id.String()); err != nil {
			return ioFailure("update text", err)
		}
		return touch(tx, convID, s.now().UTC())
	})
}

// Update applies a user edit: new text, edit timestamp, its own outdated flag
// cleared, and every later message in the conversation marked outdated.
func (s *SQLite) Update(ctx context.Context, id uuid.UUID, newText string) error {
	return s.withTx(ctx, "update", func(tx *sql.Tx) error {
		convID, _, err := messageRef(tx, id)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if _, err := tx.Exec(`UPDATE messages SET text = ?, edited_at = ?, outdated = 0 WHERE id = ?`,
			newText, millis(now), id.String()); err != nil {
			return ioFailure("update message", err)
		}
		snap, err := snapshot(tx, convID)
		if err != nil {
			return err
		}
		for _, later := range OutdatedAfter(snap, id) {
			if _, err := tx.Exec(`UPDATE messages SET outdated = 1 WHERE id = ?`, later.String()); err != nil {
				return ioFailure("mark outdated", err)
			}
		}
		return touch(tx, convID, now)
	})
}

// MarkOutdatedAfter flags every message strictly after id as outdated. No-op
// when id is the last message.
func (s *SQLite) MarkOutdatedAfter(ctx context.Context, id uuid.UUID) error {
	return s.withTx(ctx, "mark outdated after", func(tx *sql.Tx) error {
		convID, _, err := messageRef(tx, id)
		if err != nil {
			return err
		}
		snap, err := snapshot(tx, convID)
		if err != nil {
			return err
		}
		later := OutdatedAfter(snap, id)
		for _, mid := range later {
			if _, err := tx.Exec(`UPDATE messages SET outdated = 1 WHERE id = ?`, mid.String()); err != nil {
				return ioFailure("mark outdated", err)
			}
		}
		if len(later) == 0 {
			return nil
		}
		return touch(tx, convID, s.now().UTC())
	})
}

// DeleteFromHere removes the message and everything after it in one
// transaction, preserving a gap-free prefix.
func (s *SQLite) DeleteFromHere(ctx context.Context, id uuid.UUID) error {
	return s.withTx(ctx, "delete from here", func(tx *sql.Tx) error {
		convID, position, err := messageRef(tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND position >= ?`,
			convID.String(), position); err != nil {
			return ioFailure("delete suffix", err)
		}
		return touch(tx, convID, s.now().UTC())
	})
}

// TruncateOutdated deletes from the first outdated message onward. No-op when
// nothing is outdated.
func (s *SQLite) TruncateOutdated(ctx context.Context, convID uuid.UUID) error {
	return s.withTx(ctx, "truncate outdated", func(tx *sql.Tx) error {
		var probe string
		if err := tx.QueryRow(`SELECT id FROM conversations WHERE id = ?`, convID.String()).Scan(&probe); err == sql.ErrNoRows {
			return ErrNotFound("conversation", convID.String())
		} else if err != nil {
			return ioFailure("select conversation", err)
		}
		var first sql.NullInt64
		if err := tx.QueryRow(`SELECT MIN(position) FROM messages WHERE conversation_id = ? AND outdated = 1`, convID.String()).Scan(&first); err != nil {
			return ioFailure("first outdated", err)
		}
		if !first.Valid {
			return nil
		}
		if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND position >= ?`,
			convID.String(), first.Int64); err != nil {
			return ioFailure("delete suffix", err)
		}
		return touch(tx, convID, s.now().UTC())
	})
}
