// Package api implements the HTTP surface over the operation queue:
// enqueue, cancel, promote, result lookup, correlation-group actions,
// and the queue-wide state and control endpoints.
package api
