package persona

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the personas table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS personas (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    instruction TEXT NOT NULL DEFAULT '',
    voice_id    TEXT NOT NULL,
    icon        TEXT NOT NULL DEFAULT '',
    speed       DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    metadata    JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_personas_name ON personas(name);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Metadata is
// stored as JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("persona: migrate: %w", err)
	}
	return nil
}

// Ping checks that the personas table is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM personas`).Scan(&n); err != nil {
		return fmt.Errorf("persona: ping: %w", err)
	}
	return nil
}

const selectColumns = `id, name, instruction, voice_id, icon, speed, metadata, created_at, updated_at`

// Create implements [Store].
func (s *PostgresStore) Create(ctx context.Context, p *Persona) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	meta, err := marshalMetadata(p.Metadata)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO personas (id, name, instruction, voice_id, icon, speed, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		p.ID, p.Name, p.Instruction, p.VoiceID, p.Icon, p.PlaybackSpeed(), meta,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: persona with id %q already exists", ErrDuplicate, p.ID)
		}
		return fmt.Errorf("persona: create: %w", err)
	}
	return nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Persona, error) {
	query := `SELECT ` + selectColumns + ` FROM personas WHERE id = $1`

	p, err := scanPersona(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("persona: get %q: %w", id, err)
	}
	return p, nil
}

// Update implements [Store].
func (s *PostgresStore) Update(ctx context.Context, p *Persona) error {
	if err := p.Validate(); err != nil {
		return err
	}
	meta, err := marshalMetadata(p.Metadata)
	if err != nil {
		return err
	}

	const query = `
		UPDATE personas SET
			name = $2, instruction = $3, voice_id = $4, icon = $5,
			speed = $6, metadata = $7, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		p.ID, p.Name, p.Instruction, p.VoiceID, p.Icon, p.PlaybackSpeed(), meta,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: persona with id %q", ErrNotFound, p.ID)
		}
		return fmt.Errorf("persona: update: %w", err)
	}
	return nil
}

// Delete implements [Store].
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM personas WHERE id = $1`, id); err != nil {
		return fmt.Errorf("persona: delete %q: %w", id, err)
	}
	return nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context) ([]Persona, error) {
	query := `SELECT ` + selectColumns + ` FROM personas ORDER BY created_at, name`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("persona: list: %w", err)
	}
	defer rows.Close()

	var out []Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("persona: list scan: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persona: list: %w", err)
	}
	return out, nil
}

// Upsert implements [Store].
func (s *PostgresStore) Upsert(ctx context.Context, p *Persona) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	meta, err := marshalMetadata(p.Metadata)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO personas (id, name, instruction, voice_id, icon, speed, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			instruction = EXCLUDED.instruction,
			voice_id = EXCLUDED.voice_id,
			icon = EXCLUDED.icon,
			speed = EXCLUDED.speed,
			metadata = EXCLUDED.metadata,
			updated_at = now()
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		p.ID, p.Name, p.Instruction, p.VoiceID, p.Icon, p.PlaybackSpeed(), meta,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("persona: upsert: %w", err)
	}
	return nil
}

// scanPersona reads one row in [selectColumns] order.
func scanPersona(row pgx.Row) (*Persona, error) {
	var (
		p    Persona
		meta []byte
	)
	if err := row.Scan(
		&p.ID, &p.Name, &p.Instruction, &p.VoiceID, &p.Icon, &p.Speed,
		&meta, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := sonic.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, fmt.Errorf("persona: unmarshal metadata: %w", err)
		}
	}
	if len(p.Metadata) == 0 {
		p.Metadata = nil
	}
	return &p, nil
}

// marshalMetadata serialises m as a JSON object, never "null".
func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := sonic.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("persona: marshal metadata: %w", err)
	}
	return b, nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
