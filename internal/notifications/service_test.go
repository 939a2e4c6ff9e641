package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tilepipe/internal/config"
	"tilepipe/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newRecorder(t *testing.T, status int) (*httptest.Server, *[]captured) {
	t.Helper()
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func serviceFor(url string) notifications.Service {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = url
	return notifications.NewService(&cfg)
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyLayerFailed(context.Background(), "a", "", "gdal", errors.New("boom")); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := notifications.NewService(nil).TestNotification(context.Background()); err != nil {
		t.Fatalf("nil config should yield noop, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, got := newRecorder(t, http.StatusOK)
	svc := serviceFor(srv.URL)
	ctx := context.Background()

	if err := svc.NotifyLayerComplete(ctx, "roads", "Roads", "/storage/mbtiles/roads.mbtiles"); err != nil {
		t.Fatalf("NotifyLayerComplete: %v", err)
	}
	if err := svc.NotifyLayerFailed(ctx, "parcels", "", "tiles", errors.New("tippecanoe exited 1")); err != nil {
		t.Fatalf("NotifyLayerFailed: %v", err)
	}
	if err := svc.TestNotification(ctx); err != nil {
		t.Fatalf("TestNotification: %v", err)
	}

	if len(*got) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(*got))
	}
	complete, failed, test := (*got)[0], (*got)[1], (*got)[2]
	if complete.title != "tilepipe - Layer Complete" || complete.tags != "tilepipe,layer,completed" || complete.priority != "" {
		t.Fatalf("unexpected complete headers: %+v", complete)
	}
	if complete.body != "Layer ready: Roads (roads)\nArtifact: /storage/mbtiles/roads.mbtiles" {
		t.Fatalf("unexpected complete body: %q", complete.body)
	}
	if failed.priority != "high" || !strings.Contains(failed.body, "Layer failed: parcels\nStage: tiles\nError: tippecanoe exited 1") {
		t.Fatalf("unexpected failure notification: %+v", failed)
	}
	if test.priority != "low" || test.tags != "tilepipe,test" {
		t.Fatalf("unexpected test notification: %+v", test)
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv, _ := newRecorder(t, http.StatusForbidden)
	err := serviceFor(srv.URL).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ntfy returned 403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
