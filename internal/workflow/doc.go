// Package workflow moves layer jobs through the conversion stages.
//
// Each Worker owns one stage: it polls the stage queue, guards against jobs
// that already reached a terminal status, downloads the source into a fresh
// workspace, runs the stage converter, stores the artifact, and either
// enqueues the next stage's message or marks the job Complete. Any failure
// after the message is parsed marks the job Failed and leaves the message on
// the queue for inspection. Leases are renewed while a message is in flight.
//
// The Pipeline starts one goroutine per worker. Workers never interrupt a
// leased message on shutdown; Stop waits for in-flight conversions, which are
// bounded by the converter timeout.
package workflow
