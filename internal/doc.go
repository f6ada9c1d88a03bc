// Package internal contains shared types and utilities for minnow.
//
// It provides configuration loading, worker session identity, cleanup
// orchestration, and the domain types exchanged between the api, engine,
// and queue packages.
package internal
