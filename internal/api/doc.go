// Package api is the request side of tilepipe, shared by the HTTP server and
// the CLI.
//
// Service.Submit creates a job: it writes the Processing status record and
// enqueues the first stage message, so a job is never visible to pollers
// without work behind it. Status, Artifacts, Fetch, and Retry read and repair
// jobs afterwards.
//
// DTOs use camelCase JSON tags. Layer statuses are exposed as their string
// names (Processing, Failed, Complete).
package api
