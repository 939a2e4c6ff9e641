// Package status records the externally visible state of each layer job.
//
// Three backends implement Store: an embedded SQLite table for single-host
// deployments, a Postgres table partitioned by a fixed workspace key, and a
// Redis hash. Workers write through Transition so terminal states stick;
// operators use Update directly to reset a job.
package status
