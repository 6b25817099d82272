// Package rabbitmq provides the AMQP transport underneath the ML bridge:
// connection management with reconnection, a channel pool, a confirming
// publisher, a manual-ack consumer, and declaration of the ML queue topology.
package rabbitmq
