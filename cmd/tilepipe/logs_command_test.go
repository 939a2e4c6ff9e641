package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogsShowsTailAndFiltersByJob(t *testing.T) {
	env := setupCLITestEnv(t)
	content := "" +
		"2026-01-01T00:00:00Z INFO worker: stage started job_id=roads stage=gdal\n" +
		"2026-01-01T00:00:01Z INFO worker: stage started job_id=parcels stage=gdal\n" +
		"2026-01-01T00:00:02Z INFO worker: layer complete job_id=roads stage=tiles\n"
	if err := os.WriteFile(filepath.Join(env.cfg.Paths.LogDir, "tilepipe.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, env.configPath, "logs", "-n", "1")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("expected one line, got %q", out)
	}
	requireContains(t, out, "layer complete")

	out, _, err = runCLI(t, env.configPath, "logs", "--job", "parcels")
	if err != nil {
		t.Fatalf("logs --job: %v", err)
	}
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("expected only the parcels line, got %q", out)
	}
	requireContains(t, out, "job_id=parcels")
}
