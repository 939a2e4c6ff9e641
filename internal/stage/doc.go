// Package stage defines the fixed conversion chain and per-stage readiness
// records shared by the workflow, API, and CLI packages.
package stage
