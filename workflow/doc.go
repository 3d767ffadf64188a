// Package workflow executes dependency graphs of nodes on the job queue.
//
// A Definition declares nodes and the edges between them; definitions
// are validated eagerly, so cycles and unknown dependencies are rejected
// before anything runs. Execution proceeds in waves: every node whose
// dependencies have resolved is submitted concurrently, the engine waits
// for the wave to settle, resolves the published outputs into a shared
// namespace, and recomputes the ready set. A failed node marks its
// transitive dependents skipped while independent branches keep running.
package workflow
