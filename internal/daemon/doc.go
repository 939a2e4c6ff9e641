// Package daemon coordinates the long-running tilepipe process.
//
// It wires the stage pipeline and the request service into a single
// lifecycle with flock-based locking to prevent two daemons sharing a data
// directory. On start it runs preflight checks, removes stale workspaces, and
// launches one worker per stage plus the HTTP API:
//
//	POST /api/layers                   create a layer job
//	GET  /api/layers/{id}              job status
//	POST /api/layers/{id}/retry        reset a job to Processing
//	GET  /api/stages/{stage}/artifacts list stored artifacts
//	GET  /api/queues                   per-stage queue depth
//	GET  /api/status                   worker counters and last errors
//	GET  /api/health                   converter availability
//
// Stop shuts the API down first, then waits for in-flight conversions.
package daemon
