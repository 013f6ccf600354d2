// Package preload anticipates which frames a viewport will need and
// generates the ones that are not yet cached.
//
// Requests are queued by priority (FIFO among equals) and processed one at a
// time. Processing a request expands its range by the configured margins,
// subtracts the keys resident in any cache tier, submits the remainder for
// generation and waits until those tasks settle before the next request
// starts. A running request is never preempted.
package preload
