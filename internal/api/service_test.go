package api_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tilepipe/internal/api"
	"tilepipe/internal/backend"
	"tilepipe/internal/layer"
	"tilepipe/internal/queue"
	"tilepipe/internal/services"
	"tilepipe/internal/stage"
	"tilepipe/internal/testsupport"
	"tilepipe/internal/workflow"
)

func openBackends(t *testing.T) *backend.Set {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	set, err := backend.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("backend.Open: %v", err)
	}
	t.Cleanup(func() { _ = set.Close() })
	return set
}

type failingQueue struct {
	queue.Queue
}

func (failingQueue) Enqueue(context.Context, []byte) (string, error) {
	return "", errors.New("broker unavailable")
}

type brokenQueueBackends struct {
	*backend.Set
}

func (b brokenQueueBackends) Queue(name string) (queue.Queue, error) {
	q, err := b.Set.Queue(name)
	if err != nil {
		return nil, err
	}
	return failingQueue{Queue: q}, nil
}

func TestSubmitCreatesProcessingJobAndMessage(t *testing.T) {
	set := openBackends(t)
	svc := api.NewService(set, nil)
	ctx := context.Background()

	got, err := svc.Submit(ctx, api.Request{Name: "Parcels", DataLocation: " /data/parcels.shp ", Description: "county parcels"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.ID == "" || got.Status != "Processing" {
		t.Fatalf("unexpected layer: %+v", got)
	}

	st, err := svc.Status(ctx, got.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Status != "Processing" {
		t.Fatalf("status = %q, want Processing", st.Status)
	}

	q, _ := set.Queue(stage.GDAL)
	leased, err := q.Receive(ctx)
	if err != nil || leased == nil {
		t.Fatalf("expected a stage-1 message, got %v (err %v)", leased, err)
	}
	msg, err := layer.DecodeMessage(leased.Body)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	want := layer.Message{JobID: got.ID, SourceLocation: "/data/parcels.shp", LayerName: "Parcels", Description: "county parcels"}
	if msg != want {
		t.Fatalf("message = %+v, want %+v", msg, want)
	}
	tiles, _ := set.Queue(stage.Tiles)
	if n, _ := queue.Len(ctx, tiles); n != 0 {
		t.Fatalf("tiles queue should be empty, got %d", n)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc := api.NewService(openBackends(t), nil)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, api.Request{ID: "layer-1"}); !errors.Is(err, services.ErrPayload) {
		t.Fatalf("expected payload error for missing location, got %v", err)
	}
	if _, err := svc.Submit(ctx, api.Request{ID: "../escape", DataLocation: "/a.shp"}); !errors.Is(err, services.ErrPayload) {
		t.Fatalf("expected payload error for bad id, got %v", err)
	}
	if _, err := svc.Submit(ctx, api.Request{ID: "layer-1", DataLocation: "/a.shp"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := svc.Submit(ctx, api.Request{ID: "layer-1", DataLocation: "/a.shp"}); !errors.Is(err, api.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestSubmitMarksFailedWhenEnqueueFails(t *testing.T) {
	set := openBackends(t)
	svc := api.NewService(brokenQueueBackends{Set: set}, nil)
	ctx := context.Background()

	_, err := svc.Submit(ctx, api.Request{ID: "layer-q", DataLocation: "/a.shp"})
	if !errors.Is(err, services.ErrQueue) {
		t.Fatalf("expected queue error, got %v", err)
	}
	st, known, err := set.Status().Get(ctx, "layer-q")
	if err != nil || !known {
		t.Fatalf("expected a status record, known=%v err=%v", known, err)
	}
	if st != layer.StatusFailed {
		t.Fatalf("status = %s, want Failed", st)
	}
}

func TestStatusUnknownLayer(t *testing.T) {
	svc := api.NewService(openBackends(t), nil)
	if _, err := svc.Status(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRetryResetsFailedJob(t *testing.T) {
	set := openBackends(t)
	svc := api.NewService(set, nil)
	ctx := context.Background()

	if err := set.Status().Update(ctx, "layer-r", layer.StatusFailed); err != nil {
		t.Fatalf("Update: %v", err)
	}
	res, err := svc.Retry(ctx, "layer-r", api.RetryRequest{})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if res.PriorStatus != "Failed" || res.Status != "Processing" || res.Requeued {
		t.Fatalf("unexpected retry result: %+v", res)
	}

	res, err = svc.Retry(ctx, "layer-r", api.RetryRequest{
		DataLocation: "/data/roads.geojson",
		Name:         "Roads",
		Description:  "county roads",
	})
	if err != nil {
		t.Fatalf("Retry with location: %v", err)
	}
	if !res.Requeued {
		t.Fatal("expected a fresh message")
	}
	q, _ := set.Queue(stage.GDAL)
	if n, _ := queue.Len(ctx, q); n != 1 {
		t.Fatalf("expected one queued message, got %d", n)
	}
	leased, err := q.Receive(ctx)
	if err != nil || leased == nil {
		t.Fatalf("Receive: %v %v", leased, err)
	}
	msg, err := layer.DecodeMessage(leased.Body)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.LayerName != "Roads" || msg.Description != "county roads" || msg.SourceLocation != "/data/roads.geojson" {
		t.Fatalf("retry message lost layer details: %+v", msg)
	}

	if _, err := svc.Retry(ctx, "missing", api.RetryRequest{}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestArtifactsAndFetchLayer(t *testing.T) {
	set := openBackends(t)
	svc := api.NewService(set, nil)
	ctx := context.Background()

	list, err := svc.Artifacts(ctx, stage.Tiles)
	if err != nil {
		t.Fatalf("Artifacts: %v", err)
	}
	if len(list.Names) != 0 || list.Names == nil {
		t.Fatalf("expected empty non-nil list, got %#v", list.Names)
	}

	provider, _ := set.Storage(stage.Tiles)
	src := testsupport.WriteFile(t, filepath.Join(t.TempDir(), "out.mbtiles"), "tiles")
	if _, err := provider.Store(ctx, "layer-a.mbtiles", src); err != nil {
		t.Fatalf("Store: %v", err)
	}

	list, err = svc.Artifacts(ctx, "TILES")
	if err != nil {
		t.Fatalf("Artifacts: %v", err)
	}
	if list.Stage != stage.Tiles || len(list.Names) != 1 || list.Names[0] != "layer-a.mbtiles" {
		t.Fatalf("unexpected artifact list: %+v", list)
	}

	dest := filepath.Join(t.TempDir(), "cache", "layer-a.mbtiles")
	copied, err := svc.FetchLayer(ctx, "layer-a", dest)
	if err != nil || !copied {
		t.Fatalf("first fetch: copied=%v err=%v", copied, err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "tiles" {
		t.Fatalf("fetched content %q (err %v)", data, err)
	}
	copied, err = svc.FetchLayer(ctx, "layer-a", dest)
	if err != nil || copied {
		t.Fatalf("second fetch should be a no-op: copied=%v err=%v", copied, err)
	}

	if _, err := svc.FetchLayer(ctx, "layer-b", dest); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Artifacts(ctx, "raster"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestQueueStats(t *testing.T) {
	set := openBackends(t)
	svc := api.NewService(set, nil)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, api.Request{ID: "layer-s", DataLocation: "/a.shp"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	q, _ := set.Queue(stage.GDAL)
	if leased, err := q.Receive(ctx); err != nil || leased == nil {
		t.Fatalf("Receive: %v", err)
	}
	if _, err := svc.Submit(ctx, api.Request{ID: "layer-t", DataLocation: "/b.shp"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	stats := svc.QueueStats(ctx)
	if len(stats) != 2 {
		t.Fatalf("expected two stages, got %d", len(stats))
	}
	if stats[0].Visible != 1 || stats[0].InFlight != 1 || stats[0].Total() != 2 {
		t.Fatalf("unexpected gdal stats: %+v", stats[0])
	}
	if stats[1].Total() != 0 || stats[1].Error != "" {
		t.Fatalf("unexpected tiles stats: %+v", stats[1])
	}
}

func TestFromStatusSummary(t *testing.T) {
	cycle := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	summary := workflow.StatusSummary{
		Running: true,
		Stages: []workflow.WorkerStatus{
			{
				Stage:       stage.GDAL,
				Queue:       "gdconv",
				Counts:      map[workflow.Outcome]int64{workflow.OutcomeProcessed: 3, workflow.OutcomeFailed: 1},
				LastJobID:   "layer-9",
				LastOutcome: workflow.OutcomeFailed,
				LastError:   "conversion failed",
				LastCycle:   cycle,
				QueueStats:  &queue.Stats{Visible: 2, InFlight: 1},
			},
			{Stage: stage.Tiles, Queue: "mbconv", Final: true, StatsError: "redis down"},
		},
	}

	got := api.FromStatusSummary(summary)
	if !got.Running || len(got.Stages) != 2 {
		t.Fatalf("unexpected pipeline status: %+v", got)
	}
	gdal := got.Stages[0]
	if gdal.Counts["processed"] != 3 || gdal.Counts["failed"] != 1 {
		t.Fatalf("unexpected counts: %v", gdal.Counts)
	}
	if gdal.LastOutcome != "failed" || gdal.LastCycle != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected last cycle fields: %+v", gdal)
	}
	if gdal.Visible != 2 || gdal.InFlight != 1 {
		t.Fatalf("unexpected queue depth: %+v", gdal)
	}
	tiles := got.Stages[1]
	if !tiles.Final || tiles.StatsError != "redis down" || tiles.LastCycle != "" {
		t.Fatalf("unexpected tiles status: %+v", tiles)
	}
}
