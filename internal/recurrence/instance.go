package recurrence

import (
	"crypto/sha256"
	"encoding/hex"
)

// Instance is one concrete task occurrence produced for a rule. It is never
// mutated here; downstream task management owns it after creation.
type Instance struct {
	RuleID         string `json:"rule_id"`
	OccurrenceDate Date   `json:"occurrence_date"`
	DueDate        Date   `json:"due_date"`
	TargetDate     *Date  `json:"target_date,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// IdempotencyKey is hex(sha256(ruleID "|" YYYY-MM-DD)). At most one instance
// may exist per key.
func IdempotencyKey(ruleID string, on Date) string {
	sum := sha256.Sum256([]byte(ruleID + "|" + on.String()))
	return hex.EncodeToString(sum[:])
}
