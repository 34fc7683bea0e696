// Package tasks runs playlist sync jobs.
//
// # Orchestrator
//
// [Orchestrator.StartSync] persists a [models.Job], marks the source as syncing and returns immediately.
// The run itself happens in a background goroutine:
//
//  1. List the remote catalog for the source and apply its duration filter
//  2. Diff the listing against local items by remote id, creating new items as pending
//  3. Prune local items absent from the listing when the source asks for it
//  4. Materialize every pending or errored item, at most MaxParallel at a time
//  5. Recompute source counters and finalize the job
//
// At most one job runs per source. A second StartSync for a busy source returns the running job.
//
// # Cancellation
//
// [Orchestrator.CancelSync] removes the job from the registry, cancels its context and finalizes the record
// as cancelled. Cancellation is cooperative: items already handed to the materializer may finish,
// but no new item starts.
//
// # Progress Reporting
//
// Every line appended to a job's log trail is also sent as a [ProgressUpdate] on the optional progress channel.
// Sends never block; a slow reader misses updates but the persisted log is complete.
package tasks
