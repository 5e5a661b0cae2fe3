// Package engine ties the workflow resolver and scheduler together. It
// exposes a persistence-backed engine that can start new runs, resume
// existing ones, and incrementally update scheduler decisions as jobs finish
// or fail.
package engine
