package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// WriteShapefile creates a minimal shapefile set (.shp, .shx, .dbf) named
// base inside dir and returns the .shp path.
func WriteShapefile(t testing.TB, dir, base string) string {
	t.Helper()

	for _, ext := range []string{".shx", ".dbf", ".prj"} {
		WriteFile(t, filepath.Join(dir, base+ext), ext)
	}
	return WriteFile(t, filepath.Join(dir, base+".shp"), "shp")
}
