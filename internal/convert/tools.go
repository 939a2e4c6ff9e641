package convert

import (
	"context"
	"strconv"
	"strings"

	"tilepipe/internal/services"
)

// Ogr2Ogr converts vector datasets to GeoJSON with GDAL.
type Ogr2Ogr struct {
	tool
	targetSRS string
}

// NewOgr2Ogr returns a converter that reprojects into targetSRS.
func NewOgr2Ogr(binary, targetSRS string, opts ...Option) (*Ogr2Ogr, error) {
	t, err := newTool(binary, opts)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(targetSRS) == "" {
		targetSRS = "EPSG:4326"
	}
	return &Ogr2Ogr{tool: t, targetSRS: strings.TrimSpace(targetSRS)}, nil
}

// Args returns the ogr2ogr argument list for one conversion.
func (o *Ogr2Ogr) Args(inputPath, outputPath, layerName string) []string {
	return []string{
		"-f", "GeoJSON",
		"-nln", layerToken(layerName, outputPath),
		"-t_srs", o.targetSRS,
		outputPath,
		inputPath,
	}
}

func (o *Ogr2Ogr) Convert(ctx context.Context, inputPath, outputPath, layerName string) error {
	return o.run(ctx, o.Args(inputPath, outputPath, layerName), outputPath)
}

// Tippecanoe builds an MBTiles vector tileset from GeoJSON.
type Tippecanoe struct {
	tool
	minZoom   int
	maxZoom   int
	extraArgs []string
}

// NewTippecanoe returns a converter producing zoom levels minZoom..maxZoom.
func NewTippecanoe(binary string, minZoom, maxZoom int, extraArgs []string, opts ...Option) (*Tippecanoe, error) {
	t, err := newTool(binary, opts)
	if err != nil {
		return nil, err
	}
	if minZoom < 0 || maxZoom < minZoom {
		return nil, services.Wrap(services.ErrConfiguration, "", "tippecanoe", "invalid zoom range "+strconv.Itoa(minZoom)+".."+strconv.Itoa(maxZoom), nil)
	}
	extra := make([]string, 0, len(extraArgs))
	for _, arg := range extraArgs {
		if arg = strings.TrimSpace(arg); arg != "" {
			extra = append(extra, arg)
		}
	}
	return &Tippecanoe{tool: t, minZoom: minZoom, maxZoom: maxZoom, extraArgs: extra}, nil
}

// Args returns the tippecanoe argument list for one conversion.
func (tc *Tippecanoe) Args(inputPath, outputPath, layerName string) []string {
	layer := layerToken(layerName, outputPath)
	args := []string{
		"-f",
		"-o", outputPath,
		"-l", layer,
		"-n", layer,
		"-Z", strconv.Itoa(tc.minZoom),
		"-z", strconv.Itoa(tc.maxZoom),
	}
	args = append(args, tc.extraArgs...)
	return append(args, inputPath)
}

func (tc *Tippecanoe) Convert(ctx context.Context, inputPath, outputPath, layerName string) error {
	return tc.run(ctx, tc.Args(inputPath, outputPath, layerName), outputPath)
}
