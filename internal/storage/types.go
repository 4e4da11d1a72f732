package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"taskcadence/internal/recurrence"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local maps, nothing survives a restart
//   - "file": snapshot + JSONL journal next to Path
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL via DSN
//   - "redis": Redis at Addr
//
// An empty Driver means "memory".
type Config struct {
	Driver      string
	Path        string
	DSN         string
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string        // redis only; default "taskcadence:"
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one audit entry for a generator run.
// Keep it compact and schema-stable.
type RunRecord struct {
	ID         string          `json:"id"`
	Trigger    string          `json:"trigger"`
	CheckDate  recurrence.Date `json:"check_date"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Total      int             `json:"total"`
	Evaluated  int             `json:"evaluated"`
	Due        int             `json:"due"`
	Created    int             `json:"created"`
	Duplicates int             `json:"duplicates"`
	Failed     int             `json:"failed"`
	Errors     []string        `json:"errors,omitempty"`
}

// RuleStore is the rule half of Store.
type RuleStore interface {
	// ListRules returns rules ordered by ID.
	ListRules(ctx context.Context, activeOnly bool) ([]recurrence.Rule, error)
	// GetRule returns ErrNotFound for an unknown id.
	GetRule(ctx context.Context, id string) (recurrence.Rule, error)
	PutRule(ctx context.Context, r recurrence.Rule) error
	// DeleteRule returns ErrNotFound for an unknown id. Instances stay.
	DeleteRule(ctx context.Context, id string) error
}

// Store is the persistence API used by the runner and the CLI.
type Store interface {
	RuleStore

	HasInstance(ctx context.Context, ruleID string, on recurrence.Date) (bool, error)
	RecordInstance(ctx context.Context, inst recurrence.Instance) (created bool, err error)
	// ListInstances returns instances ordered by occurrence date then rule ID.
	// An empty ruleID lists every rule's instances.
	ListInstances(ctx context.Context, ruleID string) ([]recurrence.Instance, error)

	AppendRun(ctx context.Context, rec RunRecord) error
	Close() error
}

func cloneRule(r recurrence.Rule) recurrence.Rule {
	if r.TimeOfDay != nil {
		v := *r.TimeOfDay
		r.TimeOfDay = &v
	}
	r.DayOfWeek = cloneInt(r.DayOfWeek)
	r.DayOfMonth = cloneInt(r.DayOfMonth)
	r.AnchorMonth = cloneInt(r.AnchorMonth)
	r.TargetDateOffset = cloneInt(r.TargetDateOffset)
	return r
}

func cloneInstance(in recurrence.Instance) recurrence.Instance {
	if in.TargetDate != nil {
		v := *in.TargetDate
		in.TargetDate = &v
	}
	return in
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func checkRule(r recurrence.Rule) error {
	if r.ID == "" {
		return errors.New("rule id is required")
	}
	return nil
}

func checkInstance(in recurrence.Instance) error {
	if in.RuleID == "" || in.IdempotencyKey == "" || in.OccurrenceDate.IsZero() {
		return errors.New("instance needs rule_id, occurrence_date and idempotency_key")
	}
	return nil
}

// withID fills a missing run ID with a time-ordered UUID.
func (r RunRecord) withID() RunRecord {
	if r.ID == "" {
		r.ID = uuid.Must(uuid.NewV7()).String()
	}
	return r
}
