package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"tilepipe/internal/services"
)

// Provider stores named artifacts in one container.
type Provider interface {
	// Container names the bucket or directory artifacts live in.
	Container() string
	// Store uploads the file at localPath under name and returns a location
	// any Fetcher wired to the same backend can resolve.
	Store(ctx context.Context, name, localPath string) (string, error)
	// GetIfNewer copies the artifact to outputPath when outputPath is absent
	// or older than the stored copy. It reports whether a copy happened.
	GetIfNewer(ctx context.Context, name, outputPath string) (bool, error)
	// List returns artifact names in lexical order.
	List(ctx context.Context) ([]string, error)
}

// ArtifactName builds the stored name for a job's stage output.
func ArtifactName(jobID, ext string) string {
	return jobID + ext
}

func validateName(container, name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return services.Wrap(services.ErrStore, container, "validate artifact name", fmt.Sprintf("invalid name %q", name), nil)
	}
	return nil
}

// Ext returns the lowercased extension of the final path element of a
// location, whether it is a URL or a filesystem path.
func Ext(location string) string {
	trimmed := strings.TrimSpace(location)
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 && strings.Contains(trimmed, "://") {
		trimmed = trimmed[:i]
	}
	trimmed = strings.ReplaceAll(trimmed, `\`, "/")
	trimmed = strings.TrimRight(trimmed, "/")
	return strings.ToLower(path.Ext(path.Base(trimmed)))
}
