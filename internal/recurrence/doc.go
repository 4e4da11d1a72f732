// Package recurrence is the scheduling core for recurring task templates.
//
// It resolves the anchor (start_date) stored on a rule and decides whether a
// rule fires on a calendar day. Everything here is pure computation over
// supplied data: no I/O, no clock reads, no logging.
package recurrence
