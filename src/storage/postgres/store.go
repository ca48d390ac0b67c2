// Package postgres stores call records in PostgreSQL.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/square-key-labs/strawgo-screener/src/conversation"
	"github.com/square-key-labs/strawgo-screener/src/logger"
	"github.com/square-key-labs/strawgo-screener/src/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

const selectColumns = `id, call_sid, number, name, description, spam, date, unread, recording, outcome, transcript`

// Store implements storage.Store.
type Store struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// Open connects to dsn and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, log: logger.WithPrefix("Postgres")}, nil
}

// Migrate runs the embedded goose migrations against pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, rec *storage.CallRecord) error {
	if rec == nil {
		return storage.ErrInvalidID
	}
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidID, err)
	}
	transcript, err := json.Marshal(nonNil(rec.Transcript))
	if err != nil {
		return fmt.Errorf("postgres: marshal transcript: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO call_records (`+selectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			description = EXCLUDED.description,
			spam = EXCLUDED.spam,
			unread = EXCLUDED.unread,
			outcome = EXCLUDED.outcome,
			transcript = EXCLUDED.transcript`,
		id, rec.CallSID, rec.Number, rec.Name, rec.Description, rec.Spam,
		rec.Date, rec.Unread, rec.Recording, string(rec.Outcome), transcript,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert call record: %w", err)
	}
	s.log.Debug("Saved call record %s for %s", rec.ID, rec.CallSID)
	return nil
}

func (s *Store) List(ctx context.Context) ([]storage.CallRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM call_records ORDER BY date DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list call records: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan call records: %w", err)
	}
	return recs, nil
}

func (s *Store) Get(ctx context.Context, id string) (*storage.CallRecord, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, storage.ErrInvalidID
	}
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM call_records WHERE id = $1`, uid)
	if err != nil {
		return nil, fmt.Errorf("postgres: get call record: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan call record: %w", err)
	}
	return &rec, nil
}

func (s *Store) MarkRead(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return storage.ErrInvalidID
	}
	tag, err := s.pool.Exec(ctx, `UPDATE call_records SET unread = FALSE WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("postgres: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.CollectableRow) (storage.CallRecord, error) {
	var (
		rec        storage.CallRecord
		id         uuid.UUID
		outcome    string
		transcript []byte
	)
	if err := row.Scan(&id, &rec.CallSID, &rec.Number, &rec.Name, &rec.Description, &rec.Spam,
		&rec.Date, &rec.Unread, &rec.Recording, &outcome, &transcript); err != nil {
		return rec, err
	}
	rec.ID = id.String()
	rec.Outcome = storage.Outcome(outcome)
	rec.Date = rec.Date.UTC()
	if len(transcript) > 0 {
		if err := json.Unmarshal(transcript, &rec.Transcript); err != nil {
			return rec, fmt.Errorf("decode transcript: %w", err)
		}
	}
	return rec, nil
}

func nonNil(turns []conversation.Turn) []conversation.Turn {
	if turns == nil {
		return []conversation.Turn{}
	}
	return turns
}
