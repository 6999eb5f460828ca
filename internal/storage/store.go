package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose"
)

type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

// Migrate applies the goose migrations in dir.
func Migrate(dsn, dir string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return errors.Wrap(err, "storage: open")
	}
	defer db.Close()
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "storage: goose dialect")
	}
	return errors.Wrapf(goose.Up(db, dir), "storage: migrate %s", dir)
}

// OutcomeRecord is one finished poll session.
type OutcomeRecord struct {
	SessionID    string    `json:"session_id"`
	JobID        string    `json:"job_id"`
	JobType      string    `json:"job_type"`
	CorpID       string    `json:"corp_id"`
	Outcome      string    `json:"outcome"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Fetches      int       `json:"fetches"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// RecordOutcome persists rec. Recording the same session twice keeps the
// first row.
func (s *Store) RecordOutcome(ctx context.Context, rec *OutcomeRecord) error {
	_, err := s.db.Exec(ctx, `insert into job_sessions(
session_id, job_id, job_type, corp_id, outcome, error_code, error_message,
fetches, started_at, finished_at
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
on conflict (session_id) do nothing`,
		rec.SessionID, rec.JobID, rec.JobType, rec.CorpID, rec.Outcome,
		rec.ErrorCode, rec.ErrorMessage, rec.Fetches, rec.StartedAt, rec.FinishedAt,
	)
	return errors.Wrapf(err, "storage: record session %s", rec.SessionID)
}

// RecentOutcomes returns up to limit sessions for corpID, newest first.
func (s *Store) RecentOutcomes(ctx context.Context, corpID string, limit int) ([]OutcomeRecord, error) {
	rows, err := s.db.Query(ctx, `
    select session_id, job_id, job_type, corp_id, outcome, error_code, error_message,
           fetches, started_at, finished_at
      from job_sessions
     where corp_id = $1
     order by finished_at desc
     limit $2`, corpID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "storage: query sessions")
	}
	recs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[OutcomeRecord])
	if err != nil {
		return nil, errors.Wrap(err, "storage: scan sessions")
	}
	return recs, nil
}
