package main

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"tilepipe/internal/deps"
	"tilepipe/internal/testsupport"
)

func TestDepsReportsConverters(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithStubbedBinaries())

	out, _, _ := runCLI(t, env.configPath, "deps")
	requireContains(t, out, "== Preflight ==")
	requireContains(t, out, "ogr2ogr:")
	requireContains(t, out, "tippecanoe:")
	requireContains(t, out, "[OK] "+env.cfg.Stages.GDAL.Binary)
}

func TestDepsFailsWhenConverterMissing(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithStubbedBinaries("ogr2ogr"))
	env.cfg.Stages.Tiles.Binary = filepath.Join(env.baseDir, "missing-tippecanoe")
	writeTestConfig(t, env.configPath, env.cfg)

	out, _, err := runCLI(t, env.configPath, "--json", "deps")
	if err == nil {
		t.Fatal("expected deps to fail with a missing converter")
	}
	var report struct {
		Ready        bool          `json:"ready"`
		Dependencies []deps.Status `json:"dependencies"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode deps json: %v (%s)", err, out)
	}
	if report.Ready || len(report.Dependencies) != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !report.Dependencies[0].Available || report.Dependencies[1].Available {
		t.Fatalf("expected only tippecanoe to be missing: %+v", report.Dependencies)
	}
}
