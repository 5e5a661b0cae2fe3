// Package resolver expands workflow job templates into concrete matrix jobs
// and evaluates dependency readiness for the run engine. It owns the graph:
// which jobs exist, which may start, and which are skipped because a
// dependency failed.
package resolver
