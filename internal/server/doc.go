// Package server hosts the Fiber HTTP service and its shared middleware chain:
// panic recovery, per-request ids and the JSON error renderer. It exposes
// NewApp for building the application and Serve for running it until the
// process context is cancelled. Route handlers live in the routes
// sub-package so they can depend on cache, catalog and mirror without this
// package importing them.
package server
