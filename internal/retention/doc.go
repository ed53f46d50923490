// Package retention hard-deletes messages some time after they were soft-deleted.
//
// Soft-deleted messages are hidden from history immediately but keep their
// row so late reactions and deletes still resolve. The Manager removes them,
// with their reactions, once they have been deleted for longer than the TTL.
// Runs are scheduled with a five-field cron expression and never overlap.
package retention
