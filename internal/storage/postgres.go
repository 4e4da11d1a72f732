package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskcadence/internal/recurrence"
	logx "taskcadence/pkg/logx"
)

// PgStore is a PostgreSQL-backed store.
type PgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPgStore(pool, log)
	if err := s.EnsureTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPgStore wraps an existing pool. Call EnsureTables before use.
func NewPgStore(pool *pgxpool.Pool, log logx.Logger) *PgStore {
	return &PgStore{pool: pool, log: log}
}

// EnsureTables creates the schema if it doesn't exist.
func (s *PgStore) EnsureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recurrence_rules (
			id         TEXT PRIMARY KEY,
			is_active  BOOLEAN NOT NULL DEFAULT TRUE,
			body       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS recurrence_instances (
			idempotency_key TEXT PRIMARY KEY,
			rule_id         TEXT NOT NULL,
			occurrence_date DATE NOT NULL,
			due_date        DATE NOT NULL,
			target_date     DATE,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recurrence_instances_rule ON recurrence_instances(rule_id, occurrence_date)`,
		`CREATE TABLE IF NOT EXISTS recurrence_runs (
			id          TEXT PRIMARY KEY,
			source      TEXT NOT NULL,
			check_date  DATE NOT NULL,
			started_at  TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			total       INTEGER NOT NULL,
			evaluated   INTEGER NOT NULL,
			due         INTEGER NOT NULL,
			created     INTEGER NOT NULL,
			duplicates  INTEGER NOT NULL,
			failed      INTEGER NOT NULL,
			errors      JSONB
		)`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PgStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PgStore) ListRules(ctx context.Context, activeOnly bool) ([]recurrence.Rule, error) {
	q := `SELECT body FROM recurrence_rules`
	if activeOnly {
		q += ` WHERE is_active`
	}
	q += ` ORDER BY id`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []recurrence.Rule
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		r, err := decodeRule(body)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgStore) GetRule(ctx context.Context, id string) (recurrence.Rule, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM recurrence_rules WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return recurrence.Rule{}, ErrNotFound
	}
	if err != nil {
		return recurrence.Rule{}, fmt.Errorf("get rule %s: %w", id, err)
	}
	return decodeRule(body)
}

func (s *PgStore) PutRule(ctx context.Context, r recurrence.Rule) error {
	if err := checkRule(r); err != nil {
		return err
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode rule %s: %w", r.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO recurrence_rules (id, is_active, body, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (id) DO UPDATE SET is_active = EXCLUDED.is_active, body = EXCLUDED.body, updated_at = NOW()`,
		r.ID, r.IsActive, string(body))
	if err != nil {
		return fmt.Errorf("put rule %s: %w", r.ID, err)
	}
	return nil
}

func (s *PgStore) DeleteRule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recurrence_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) HasInstance(ctx context.Context, ruleID string, on recurrence.Date) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM recurrence_instances WHERE idempotency_key = $1)`,
		recurrence.IdempotencyKey(ruleID, on)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has instance: %w", err)
	}
	return exists, nil
}

func (s *PgStore) RecordInstance(ctx context.Context, inst recurrence.Instance) (bool, error) {
	if err := checkInstance(inst); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO recurrence_instances (idempotency_key, rule_id, occurrence_date, due_date, target_date)
		VALUES ($1, $2, $3::date, $4::date, $5::date)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		inst.IdempotencyKey, inst.RuleID, inst.OccurrenceDate.String(), inst.DueDate.String(), nullDate(inst.TargetDate))
	if err != nil {
		return false, fmt.Errorf("record instance: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) ListInstances(ctx context.Context, ruleID string) ([]recurrence.Instance, error) {
	q := `SELECT idempotency_key, rule_id,
		to_char(occurrence_date, 'YYYY-MM-DD'), to_char(due_date, 'YYYY-MM-DD'),
		COALESCE(to_char(target_date, 'YYYY-MM-DD'), '')
		FROM recurrence_instances`
	var args []any
	if ruleID != "" {
		q += ` WHERE rule_id = $1`
		args = append(args, ruleID)
	}
	q += ` ORDER BY occurrence_date, rule_id`
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []recurrence.Instance
	for rows.Next() {
		var (
			in               recurrence.Instance
			occ, due, target string
		)
		if err := rows.Scan(&in.IdempotencyKey, &in.RuleID, &occ, &due, &target); err != nil {
			return nil, err
		}
		if err := scanDates(&in, occ, due, target); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *PgStore) AppendRun(ctx context.Context, rec RunRecord) error {
	rec = rec.withID()
	errs, err := encodeErrors(rec.Errors)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO recurrence_runs (id, source, check_date, started_at, finished_at, total, evaluated, due, created, duplicates, failed, errors)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb)`,
		rec.ID, rec.Trigger, rec.CheckDate.String(), rec.StartedAt, rec.FinishedAt,
		rec.Total, rec.Evaluated, rec.Due, rec.Created, rec.Duplicates, rec.Failed, errs)
	if err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	return nil
}
