// Package task implements the workflow task engine: a registry mapping task
// types to handlers, and a database-polling dispatcher that claims eligible
// tasks, executes their handlers concurrently, and finalizes the results.
//
// Tasks form a dependency graph within a run. The dispatcher only claims
// queued tasks whose dependencies have all completed and whose run is
// running, so execution order emerges entirely from the graph. Handlers can
// return follow-on task specs, which the dispatcher inserts atomically with
// the completed task's result.
package task
