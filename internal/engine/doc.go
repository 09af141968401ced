// Package engine orchestrates synchronization runs.
//
// A run selects the modules to process (every module opted into
// periodic pull for scheduled runs, the named ones for manual runs)
// and pipes each module through reconciliation, materialization and
// proposal. Modules run in parallel under a bounded worker count;
// versions within one module run strictly sequentially, oldest first.
// Failures are isolated per module and collected into a RunReport
// rather than propagated, so one broken module never blocks the rest
// of the run.
package engine
