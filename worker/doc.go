// Package worker runs CPU-heavy tasks on a fixed set of worker goroutines.
//
// The Pool coordinator owns a stable priority queue (higher priority first,
// FIFO among equals) and an idle set. Workers share nothing with the
// coordinator: each worker receives a Request on its own channel and
// reports Responses (progress, completion, error or crash) on a channel
// shared by all workers. Payloads and results are cloned at that boundary.
//
// Cancelling a queued task removes it synchronously; its handler never runs.
// Cancelling a running task cancels the handler's context, rejects the
// Future immediately and retires the worker, and a fresh worker replaces
// it. A worker whose handler panics (or exits its goroutine) is replaced the
// same way and its task fails with *WorkerCrashedError.
package worker
