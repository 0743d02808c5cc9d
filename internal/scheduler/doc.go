// Package scheduler runs one-shot delayed tasks for the request manager.
// Tasks are kept in a min-heap ordered by due time. A push scheduler owns a
// goroutine that sleeps until the next task is due, with a 60-second
// max-sleep-cap to survive clock steps and system sleep. A pull scheduler
// has no goroutine; its owner calls RunDue from its own tick.
//
// Every task fires at most once, never before its delay has elapsed and
// never after it was cancelled. A fire racing a cancel is resolved by a
// single compare-and-swap on the task's Handle.
package scheduler
