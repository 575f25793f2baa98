// Package ledger records pipeline runs and the outcome of every step node in
// a SQLite database next to the study.
package ledger
