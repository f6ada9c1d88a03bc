// Package queue coordinates work between the remote analysis queue and the
// local engine workers.
//
// The Stub/Actor pair shares one queue state: engine workers pull positions
// through the Stub, and the Actor acquires new batches when the local queue
// runs dry, pacing itself with backlog thresholds and randomized backoff.
// Completed batches are submitted upstream; failed ones are aborted so
// other workers can pick them up.
package queue
