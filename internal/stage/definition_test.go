package stage_test

import (
	"testing"

	"tilepipe/internal/config"
	"tilepipe/internal/stage"
)

func TestChainFollowsConfig(t *testing.T) {
	cfg := config.Default()
	chain := stage.Chain(&cfg)
	if len(chain) != 2 {
		t.Fatalf("expected two stages, got %d", len(chain))
	}
	if chain[0].Name != stage.GDAL || chain[0].Queue != "gdconv" || chain[0].Container != "geojson" {
		t.Fatalf("unexpected first stage: %+v", chain[0])
	}
	if chain[1].Name != stage.Tiles || chain[1].Queue != "mbconv" || chain[1].OutputExt != ".mbtiles" {
		t.Fatalf("unexpected second stage: %+v", chain[1])
	}
}

func TestAccepts(t *testing.T) {
	cfg := config.Default()
	gdal := stage.Chain(&cfg)[0]
	cases := map[string]bool{
		"/data/parcels.SHP":             true,
		"s3://bucket/zoning.geojson":    true,
		"/data/city.gdb":                true,
		"https://example.com/roads.kml": false,
		"/data/noext":                   false,
	}
	for location, want := range cases {
		if _, got := gdal.Accepts(location); got != want {
			t.Fatalf("Accepts(%q) = %v, want %v", location, got, want)
		}
	}
}

func TestFindAndOutputName(t *testing.T) {
	cfg := config.Default()
	def, ok := stage.Find(stage.Chain(&cfg), " Tiles ")
	if !ok {
		t.Fatal("expected tiles stage")
	}
	if got := def.OutputName("job-9"); got != "job-9.mbtiles" {
		t.Fatalf("unexpected output name %q", got)
	}
	if _, ok := stage.Find(stage.Chain(&cfg), "bogus"); ok {
		t.Fatal("unexpected match for unknown stage")
	}
}
