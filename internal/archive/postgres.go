package archive

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/prophet/pkg/types"
)

// Schema is the SQL DDL for the conversations table.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id              TEXT PRIMARY KEY,
    subject         TEXT NOT NULL DEFAULT '',
    participant_ids JSONB NOT NULL DEFAULT '[]',
    transcript      JSONB NOT NULL DEFAULT '[]',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations(created_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore archives conversations in PostgreSQL, one row per
// conversation with the transcript as JSONB.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a store using db. Call [PostgresStore.Migrate]
// before use.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

// Save implements [Store]. Saving an existing ID replaces the transcript.
func (s *PostgresStore) Save(ctx context.Context, c Conversation) error {
	participants := c.ParticipantIDs
	if participants == nil {
		participants = []string{}
	}
	transcript := c.Transcript
	if transcript == nil {
		transcript = []types.Utterance{}
	}
	pJSON, err := sonic.Marshal(participants)
	if err != nil {
		return fmt.Errorf("archive: marshal participants: %w", err)
	}
	tJSON, err := sonic.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("archive: marshal transcript: %w", err)
	}

	const query = `
		INSERT INTO conversations (id, subject, participant_ids, transcript, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET
			subject = EXCLUDED.subject,
			participant_ids = EXCLUDED.participant_ids,
			transcript = EXCLUDED.transcript`
	if _, err := s.db.Exec(ctx, query, c.ID, c.Subject, pJSON, tJSON, c.CreatedAt); err != nil {
		return fmt.Errorf("archive: save %q: %w", c.ID, err)
	}
	return nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Conversation, error) {
	const base = `SELECT id, subject, participant_ids, transcript, created_at FROM conversations ORDER BY created_at DESC`
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.Query(ctx, base+` LIMIT $1`, limit)
	} else {
		rows, err = s.db.Query(ctx, base)
	}
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var (
			c            Conversation
			pJSON, tJSON []byte
		)
		if err := rows.Scan(&c.ID, &c.Subject, &pJSON, &tJSON, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("archive: list scan: %w", err)
		}
		if err := sonic.Unmarshal(pJSON, &c.ParticipantIDs); err != nil {
			return nil, fmt.Errorf("archive: unmarshal participants: %w", err)
		}
		if err := sonic.Unmarshal(tJSON, &c.Transcript); err != nil {
			return nil, fmt.Errorf("archive: unmarshal transcript: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	return out, nil
}
