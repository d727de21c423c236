// Package workflow implements the run-level state machine on top of the
// task engine. It starts runs and seeds their first task, applies the
// pause, resume and cancel transitions, re-evaluates a run whenever one
// of its tasks settles (advancing the advisory stage pointer and firing
// the automatic completed and failed transitions), and classifies run
// health from stale, failed and blocked task counts.
//
// The package owns no dispatch logic. Task eligibility is governed by the
// dependency graph inside the task engine; the workflow layer only gates
// dispatch indirectly through the run status the engine's task selection
// filters on.
package workflow
