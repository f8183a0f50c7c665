// Package daemon ties the scheduler, reconciler, and HTTP API together as a
// single-instance background process.
package daemon
