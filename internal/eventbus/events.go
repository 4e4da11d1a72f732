package eventbus

import "time"

// RunCompleted is the payload of TypeRunCompleted.
type RunCompleted struct {
	RunID      string
	Trigger    string // "schedule", "manual", "backfill", "startup"
	CheckDate  string // YYYY-MM-DD
	Took       time.Duration
	Total      int
	Inactive   int
	Evaluated  int
	Due        int
	Created    int
	Duplicates int
	Failed     int
	// Failures maps rule ID to its error text.
	Failures map[string]string
}

// InstanceCreated is the payload of TypeInstanceCreated.
type InstanceCreated struct {
	RunID          string
	RuleID         string
	Title          string
	OccurrenceDate string
	DueDate        string
	TargetDate     string // empty when the rule has no target offset
}
