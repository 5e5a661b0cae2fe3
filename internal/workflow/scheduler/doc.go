// Package scheduler turns resolver snapshots into runnable job batches that
// respect dependency order plus runtime constraints such as concurrency
// limits. It is a thin layer the run engine calls to decide which jobs to
// dispatch next without re-implementing filtering logic.
package scheduler
