package stage

import (
	"slices"
	"strings"

	"tilepipe/internal/config"
	"tilepipe/internal/storage"
)

// Stage names, in pipeline order.
const (
	GDAL  = "gdal"
	Tiles = "tiles"
)

// Definition describes one conversion step: where it reads work, where it
// writes artifacts, and what input it accepts.
type Definition struct {
	Name       string
	Queue      string
	Container  string
	Extensions []string
	OutputExt  string
}

// Accepts returns the location's extension and whether the stage takes it.
func (d Definition) Accepts(location string) (string, bool) {
	ext := storage.Ext(location)
	return ext, ext != "" && slices.Contains(d.Extensions, ext)
}

// OutputName returns the artifact name for a job.
func (d Definition) OutputName(jobID string) string {
	return storage.ArtifactName(jobID, d.OutputExt)
}

// Chain returns the fixed stage chain in processing order.
func Chain(cfg *config.Config) []Definition {
	return []Definition{
		{
			Name:       GDAL,
			Queue:      cfg.Stages.GDAL.Queue,
			Container:  cfg.Stages.GDAL.Container,
			Extensions: cfg.Stages.GDAL.Extensions,
			OutputExt:  ".geojson",
		},
		{
			Name:       Tiles,
			Queue:      cfg.Stages.Tiles.Queue,
			Container:  cfg.Stages.Tiles.Container,
			Extensions: cfg.Stages.Tiles.Extensions,
			OutputExt:  ".mbtiles",
		},
	}
}

// Find returns the definition named name.
func Find(chain []Definition, name string) (Definition, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, d := range chain {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}
