// Package logger provides structured logging and transient progress
// reporting for minnow.
//
// It wraps zap for structured events and renders a rewritable progress line
// when stderr is a terminal.
package logger
