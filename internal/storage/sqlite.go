package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"taskcadence/internal/recurrence"
	logx "taskcadence/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer. It also keeps ":memory:" on one database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListRules(ctx context.Context, activeOnly bool) ([]recurrence.Rule, error) {
	q := `SELECT body FROM rules`
	if activeOnly {
		q += ` WHERE is_active = 1`
	}
	q += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []recurrence.Rule
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		r, err := decodeRule([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetRule(ctx context.Context, id string) (recurrence.Rule, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM rules WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return recurrence.Rule{}, ErrNotFound
	}
	if err != nil {
		return recurrence.Rule{}, err
	}
	return decodeRule([]byte(body))
}

func (s *sqliteStore) PutRule(ctx context.Context, r recurrence.Rule) error {
	if err := checkRule(r); err != nil {
		return err
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode rule %s: %w", r.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rules(id, is_active, body, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET is_active=excluded.is_active, body=excluded.body, updated_at=excluded.updated_at`,
		r.ID, boolInt(r.IsActive), string(body), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) HasInstance(ctx context.Context, ruleID string, on recurrence.Date) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM instances WHERE idempotency_key = ?`,
		recurrence.IdempotencyKey(ruleID, on)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqliteStore) RecordInstance(ctx context.Context, inst recurrence.Instance) (bool, error) {
	if err := checkInstance(inst); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO instances(idempotency_key, rule_id, occurrence_date, due_date, target_date, created_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(idempotency_key) DO NOTHING`,
		inst.IdempotencyKey, inst.RuleID, inst.OccurrenceDate.String(), inst.DueDate.String(),
		nullDate(inst.TargetDate), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) ListInstances(ctx context.Context, ruleID string) ([]recurrence.Instance, error) {
	q := `SELECT idempotency_key, rule_id, occurrence_date, due_date, target_date FROM instances`
	var args []any
	if ruleID != "" {
		q += ` WHERE rule_id = ?`
		args = append(args, ruleID)
	}
	q += ` ORDER BY occurrence_date, rule_id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []recurrence.Instance
	for rows.Next() {
		var (
			in       recurrence.Instance
			occ, due string
			target   sql.NullString
		)
		if err := rows.Scan(&in.IdempotencyKey, &in.RuleID, &occ, &due, &target); err != nil {
			return nil, err
		}
		if err := scanDates(&in, occ, due, target.String); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendRun(ctx context.Context, rec RunRecord) error {
	rec = rec.withID()
	errs, err := encodeErrors(rec.Errors)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(id, source, check_date, started_at, finished_at, total, evaluated, due, created, duplicates, failed, errors)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Trigger, rec.CheckDate.String(),
		rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		rec.Total, rec.Evaluated, rec.Due, rec.Created, rec.Duplicates, rec.Failed, errs,
	)
	return err
}

func decodeRule(body []byte) (recurrence.Rule, error) {
	var r recurrence.Rule
	if err := json.Unmarshal(body, &r); err != nil {
		return recurrence.Rule{}, fmt.Errorf("decode rule: %w", err)
	}
	return r, nil
}

func scanDates(in *recurrence.Instance, occ, due, target string) error {
	var err error
	if in.OccurrenceDate, err = recurrence.ParseDate(occ); err != nil {
		return err
	}
	if in.DueDate, err = recurrence.ParseDate(due); err != nil {
		return err
	}
	if target != "" {
		t, err := recurrence.ParseDate(target)
		if err != nil {
			return err
		}
		in.TargetDate = &t
	}
	return nil
}

func nullDate(d *recurrence.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func encodeErrors(errs []string) (any, error) {
	if len(errs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
