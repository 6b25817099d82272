// Package bridge turns the fire-and-forget message exchange with the ML
// worker pool into calls a request-handling goroutine can await. Submit
// registers a pending request under a fresh correlation id, publishes the
// request envelope, and returns a completion handle; the response consumer
// resolves the handle when the matching response arrives on the response
// queue. A sweeper times out requests the workers never answer and evicts
// stale entries, so the pending registry cannot grow without bound.
//
// Delivery from the broker is at-least-once. The registry's atomic complete
// is the idempotence boundary: the first response for a correlation id wins,
// and duplicates or orphans are logged and acknowledged without effect.
package bridge
