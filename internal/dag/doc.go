// Package dag is the execution layer of the application. It expands the
// steps of a pipeline into one node per (subject, step) plus one node per
// group-scoped step, links the nodes by their `depends_on` edges, and runs
// them concurrently on a bounded worker pool.
//
// A failed node marks every transitive dependent as skipped. With fail-fast
// enabled the run context is cancelled as well and nodes that were not yet
// started are recorded as cancelled.
package dag
