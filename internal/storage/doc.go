// Package storage persists recurrence rules, generated task instances and
// the run audit log.
//
// Every driver implements the same contract:
//   - RecordInstance is an atomic insert-if-absent keyed by the instance's
//     idempotency key, so concurrent or repeated runs create each
//     (rule, date) instance at most once
//   - ListRules and ListInstances return stable orderings
//
// Drivers: memory, file (snapshot + JSONL journal), sqlite, postgres, redis.
package storage
