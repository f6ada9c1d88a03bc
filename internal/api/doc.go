// Package api provides the HTTP client for the remote analysis queue.
//
// It handles batch acquisition, result submission, aborts, and queue status
// queries. The Doer interface is the injection point for tests.
package api
