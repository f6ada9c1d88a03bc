// Package update checks for and installs newer releases of the worker
// binary.
package update
