// Package dispatch runs document jobs: a single worker loop takes document ids
// off the queue and hands each to the Executor, one at a time.
//
// A job:
//   - checks the document out under the service identity
//   - resolves its style, rejecting the job when none matches
//   - creates fresh cache and staging directories named from the id
//   - stages accepted entries in, with a manifest
//   - spawns the batch tool runner and supervises it to exit
//   - stages every staging file back out, commits and releases
//   - removes the cache directory; staging is kept
//
// Failures before the runner starts, and failures staging out or committing,
// abandon the job without a commit; the document is released so a later
// event can reschedule it. A runner that fails to start or exits non-zero
// does not abandon the job: whatever it left in staging is committed.
//
// Shutdown never interrupts a running job. Jobs run under a context detached
// from cancellation and the runner process is not bound to any context.
package dispatch
