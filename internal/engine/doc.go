// Package engine manages UCI chess engine subprocesses.
//
// It handles the UCI handshake, option configuration, search commands, and
// output parsing, and runs a pool of single-engine workers that pull
// positions from a queue source.
package engine
