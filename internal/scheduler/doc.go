// Package scheduler triggers named jobs on cron schedules in the practice
// timezone. It is trigger-only: a job runs on the cron goroutine with
// skip-if-still-running overlap protection and an optional timeout.
package scheduler
