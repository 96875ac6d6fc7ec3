// Package task runs units of work with their own lifecycle.
//
// A Task wraps an Executor and drives it through attempts, repeats, pauses
// and cancellation. StepFlow executors split a run into ordered steps, and
// Callback executors hand a typed Response back to a waiting caller.
//
// The Scheduler admits tasks to a bounded WorkerPool or, for forced and
// keep-alive tasks, to an unbounded DetachedPool. Tasks that do not fit are
// delayed and promoted in submission order as capacity frees up; tasks of a
// single-instance kind never run concurrently.
package task
