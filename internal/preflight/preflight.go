package preflight

import (
	"context"

	"tilepipe/internal/config"
)

// minWorkSpace is the free space a worker wants before taking a message.
var minWorkSpace uint64 = 512 * 1024 * 1024

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes the filesystem and tool checks for the given config.
func RunAll(_ context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir))
	results = append(results, CheckFreeSpace("Work directory space", cfg.Paths.WorkDir, minWorkSpace))
	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))

	if cfg.Backend.Storage == config.StorageLocal {
		results = append(results, CheckDirectoryAccess("Storage directory", cfg.Paths.StorageDir))
	}

	for _, dep := range CheckSystemDeps(cfg) {
		detail := dep.Path
		if !dep.Available {
			detail = dep.Detail
		}
		results = append(results, Result{Name: dep.Name, Passed: dep.Available, Detail: detail})
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
