// Package reliability provides the failure-handling building blocks used on
// the bridge's publish and consume paths: retry policies, a circuit breaker
// guarding the broker, and a parking handler for poison responses that have
// exhausted their redelivery budget.
package reliability
