// Package messaging connects the bridge to the broker. It publishes request
// envelopes to the ML request queue and subscribes to the response and
// error-log queues, handing each delivery to the bridge with its settlement
// (ack, retry, park) under the handler's explicit control.
//
// Settlement contract: acknowledging a delivery marks it processed; retrying
// routes it through the dead-letter retry cycle back onto its queue with an
// incremented redelivery count; parking moves it to the parking queue for
// offline inspection. A delivery that is never settled stays unacked and is
// redelivered when the channel closes, so handlers must settle every
// delivery they receive.
package messaging
