// Package queue provides the at-least-once message queues that chain the
// pipeline stages together.
//
// Every backend implements Queue with the same lease semantics: Receive hides
// a message for the lease duration, Delete acknowledges it, Extend renews the
// lease, and a lapsed lease makes the message visible again with an
// incremented delivery count. SQLite keeps all queues in one local database,
// Redis uses Lua scripts over a list, a sorted set, and two hashes, and AMQP
// layers client-side leases over RabbitMQ's basic.get/ack/nack.
package queue
