// Package backend opens the queue, status, and storage implementations named
// in the [backend] config section and assembles the stage workers on top of
// them.
//
// SQLite queues and statuses are the zero-dependency default. Redis can back
// both queues and statuses through one shared client; RabbitMQ and PostgreSQL
// cover the queue and status roles respectively. Artifacts live either in a
// local directory tree or in S3-compatible buckets, one per stage container.
package backend
