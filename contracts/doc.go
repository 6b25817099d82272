// Package contracts defines the wire types exchanged between the calendar
// backend and the ML worker pool: typed requests, typed responses, and the
// transport envelope that carries them over the broker.
//
// Every request and response carries a request id. The id is assigned when
// the request is submitted and is the correlation key that links a response
// arriving on the response queue back to the caller that is waiting for it.
package contracts
