package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"taskcadence/internal/recurrence"
	logx "taskcadence/pkg/logx"
)

// fileStore is a single-process persistence backend without a database.
//
// Files:
//   - <prefix>.snapshot.json  (rules + instances, rewritten on compaction)
//   - <prefix>.journal.jsonl  (append-only mutations since the snapshot)
//   - <prefix>.runs.jsonl     (append-only run audit)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex
	st *state

	snapshotPath string
	journalFile  *os.File
	runsFile     *os.File

	writes       int
	compactEvery int
}

const (
	opPutRule    = "put_rule"
	opDeleteRule = "delete_rule"
	opInstance   = "instance"
)

type journalRecord struct {
	Op       string               `json:"op"`
	ID       string               `json:"id,omitempty"`
	Rule     *recurrence.Rule     `json:"rule,omitempty"`
	Instance *recurrence.Instance `json:"instance,omitempty"`
}

type snapshot struct {
	Rules     []recurrence.Rule     `json:"rules"`
	Instances []recurrence.Instance `json:"instances"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"
	runsPath := prefix + ".runs.jsonl"

	st := newState()
	if err := loadSnapshot(snapPath, st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, st, log); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = rf.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		st:           st,
		snapshotPath: snapPath,
		journalFile:  jf,
		runsFile:     rf,
		compactEvery: 1000,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.runsFile != nil {
		err1 = s.runsFile.Close()
		s.runsFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) ListRules(ctx context.Context, activeOnly bool) ([]recurrence.Rule, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil, ErrClosed
	}
	return s.st.listRules(activeOnly), nil
}

func (s *fileStore) GetRule(ctx context.Context, id string) (recurrence.Rule, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return recurrence.Rule{}, ErrClosed
	}
	return s.st.getRule(id)
}

func (s *fileStore) PutRule(ctx context.Context, r recurrence.Rule) error {
	_ = ctx
	if err := checkRule(r); err != nil {
		return err
	}
	r = cloneRule(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opPutRule, Rule: &r}); err != nil {
		return err
	}
	s.st.rules[r.ID] = r
	return nil
}

func (s *fileStore) DeleteRule(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if _, ok := s.st.rules[id]; !ok {
		return ErrNotFound
	}
	if err := s.appendLocked(journalRecord{Op: opDeleteRule, ID: id}); err != nil {
		return err
	}
	delete(s.st.rules, id)
	return nil
}

func (s *fileStore) HasInstance(ctx context.Context, ruleID string, on recurrence.Date) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return false, ErrClosed
	}
	return s.st.hasInstance(ruleID, on), nil
}

func (s *fileStore) RecordInstance(ctx context.Context, inst recurrence.Instance) (bool, error) {
	_ = ctx
	if err := checkInstance(inst); err != nil {
		return false, err
	}
	inst = cloneInstance(inst)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return false, ErrClosed
	}
	if _, ok := s.st.instances[inst.IdempotencyKey]; ok {
		return false, nil
	}
	if err := s.appendLocked(journalRecord{Op: opInstance, Instance: &inst}); err != nil {
		return false, err
	}
	s.st.instances[inst.IdempotencyKey] = inst
	return true, nil
}

func (s *fileStore) ListInstances(ctx context.Context, ruleID string) ([]recurrence.Instance, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil, ErrClosed
	}
	return s.st.listInstances(ruleID), nil
}

func (s *fileStore) AppendRun(ctx context.Context, rec RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.runsFile).Encode(rec.withID())
}

// appendLocked writes one journal record. The in-memory state is only
// updated by the caller after the record is on disk.
func (s *fileStore) appendLocked(rec journalRecord) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		// Best-effort compact; the journal stays authoritative on failure.
		if err := s.compactLocked(rec); err != nil {
			s.log.Debug("storage compact failed", logx.Err(err))
		}
	}
	return nil
}

// compactLocked writes a snapshot that includes pending (the record just
// journaled but not yet applied) and truncates the journal.
func (s *fileStore) compactLocked(pending journalRecord) error {
	next := newState()
	for id, r := range s.st.rules {
		next.rules[id] = r
	}
	for key, in := range s.st.instances {
		next.instances[key] = in
	}
	applyRecord(next, pending)
	snap := snapshot{Rules: next.listRules(false), Instances: next.listInstances("")}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func applyRecord(st *state, rec journalRecord) {
	switch rec.Op {
	case opPutRule:
		if rec.Rule != nil && rec.Rule.ID != "" {
			st.rules[rec.Rule.ID] = *rec.Rule
		}
	case opDeleteRule:
		delete(st.rules, rec.ID)
	case opInstance:
		if rec.Instance != nil && rec.Instance.IdempotencyKey != "" {
			if _, ok := st.instances[rec.Instance.IdempotencyKey]; !ok {
				st.instances[rec.Instance.IdempotencyKey] = *rec.Instance
			}
		}
	}
}

func loadSnapshot(path string, st *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, r := range snap.Rules {
		st.rules[r.ID] = r
	}
	for _, in := range snap.Instances {
		st.instances[in.IdempotencyKey] = in
	}
	return nil
}

func replayJournal(path string, st *state, log logx.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			// A torn tail write after a crash; everything before it is intact.
			log.Warn("storage journal: skipping unreadable record", logx.Err(err))
			continue
		}
		applyRecord(st, rec)
	}
	return sc.Err()
}
