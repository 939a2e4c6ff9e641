package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tilepipe/internal/api"
)

func TestSubmitStatusAndRetry(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env.configPath, "submit", "--id", "roads", "--name", "Roads", "/data/roads.geojson")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireContains(t, out, "Submitted layer roads (Processing)")

	if _, _, err := runCLI(t, env.configPath, "submit", "--id", "roads", "/data/roads.geojson"); !errors.Is(err, api.ErrExists) {
		t.Fatalf("expected ErrExists for a duplicate id, got %v", err)
	}

	out, _, err = runCLI(t, env.configPath, "status", "roads")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "roads:")
	requireContains(t, out, "[WARN] Processing")

	out, _, err = runCLI(t, env.configPath, "--json", "status", "roads", "ghost")
	if !errors.Is(err, errSomeFailed) {
		t.Fatalf("expected unknown layer error, got %v", err)
	}
	var layers []api.Layer
	if err := json.Unmarshal([]byte(out), &layers); err != nil {
		t.Fatalf("decode status json: %v (%s)", err, out)
	}
	if len(layers) != 2 || layers[0].Status != "Processing" || layers[1].Status != "Unknown" {
		t.Fatalf("unexpected layers: %+v", layers)
	}

	out, _, err = runCLI(t, env.configPath, "--json", "retry", "roads", "--location", "/data/roads-v2.geojson", "--name", "Roads")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	var res api.RetryResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode retry json: %v", err)
	}
	if !res.Requeued || res.PriorStatus != "Processing" {
		t.Fatalf("unexpected retry result: %+v", res)
	}

	out, _, err = runCLI(t, env.configPath, "--json", "queue", "stats")
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	var stats []api.QueueStat
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if len(stats) != 2 || stats[0].Visible != 2 || stats[1].Total() != 0 {
		t.Fatalf("unexpected queue stats: %+v", stats)
	}

	out, _, err = runCLI(t, env.configPath, "queue", "stats")
	if err != nil {
		t.Fatalf("queue stats table: %v", err)
	}
	requireContains(t, out, "gdconv")
	requireContains(t, out, "mbconv")

	if _, _, err := runCLI(t, env.configPath, "queue", "purge", "gdal"); err == nil {
		t.Fatal("expected purge to require --yes")
	}
	out, _, err = runCLI(t, env.configPath, "queue", "purge", "gdal", "--yes")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	requireContains(t, out, "Removed 2 message(s) from gdal")
}

func TestSubmitRejectsBadInput(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, env.configPath, "submit", "--id", "../up", "/data/a.shp"); err == nil {
		t.Fatal("expected invalid id to be rejected")
	}
	if _, _, err := runCLI(t, env.configPath, "submit", " "); err == nil {
		t.Fatal("expected empty location to be rejected")
	}
	if _, _, err := runCLI(t, env.configPath, "retry", "missing"); err == nil {
		t.Fatal("expected retry of an unknown layer to fail")
	}
}

func TestJobsSummaryAndClear(t *testing.T) {
	env := setupCLITestEnv(t)
	for _, id := range []string{"a", "b"} {
		if _, _, err := runCLI(t, env.configPath, "submit", "--id", id, "/data/"+id+".shp"); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}

	out, _, err := runCLI(t, env.configPath, "--json", "jobs", "summary")
	if err != nil {
		t.Fatalf("jobs summary: %v", err)
	}
	var counts map[string]int
	if err := json.Unmarshal([]byte(out), &counts); err != nil {
		t.Fatalf("decode counts: %v", err)
	}
	if counts["Processing"] != 2 || counts["Complete"] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}

	out, _, err = runCLI(t, env.configPath, "jobs", "clear", "--yes")
	if err != nil {
		t.Fatalf("jobs clear: %v", err)
	}
	requireContains(t, out, "Cleared 2 job record(s)")

	if _, _, err := runCLI(t, env.configPath, "status", "a"); err == nil {
		t.Fatal("expected cleared job to be unknown")
	}
}

func TestArtifactsListEmptyAndUnknownStage(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, env.configPath, "artifacts", "list")
	if err != nil {
		t.Fatalf("artifacts list: %v", err)
	}
	requireContains(t, out, "No artifacts in mbtiles")

	if _, _, err := runCLI(t, env.configPath, "artifacts", "list", "raster"); err == nil {
		t.Fatal("expected unknown stage error")
	}
}

func TestWorkspaceClean(t *testing.T) {
	env := setupCLITestEnv(t)
	stale := filepath.Join(env.cfg.Paths.WorkDir, "gdal-stale")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	out, _, err := runCLI(t, env.configPath, "workspace", "clean")
	if err != nil {
		t.Fatalf("workspace clean: %v", err)
	}
	requireContains(t, out, "0 workspace(s) removed")

	out, _, err = runCLI(t, env.configPath, "workspace", "clean", "--max-age", "0s")
	if err != nil {
		t.Fatalf("workspace clean --max-age: %v", err)
	}
	requireContains(t, out, "1 workspace(s) removed")
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale workspace to be removed, stat err %v", err)
	}
}
