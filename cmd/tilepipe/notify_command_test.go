package main

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestNotifyTest(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, env.configPath, "notify", "test"); err == nil {
		t.Fatal("expected an error without a topic")
	}

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	env.cfg.Notifications.NtfyTopic = srv.URL + "/tilepipe"
	writeTestConfig(t, env.configPath, env.cfg)
	out, _, err := runCLI(t, env.configPath, "notify", "test")
	if err != nil {
		t.Fatalf("notify test: %v", err)
	}
	requireContains(t, out, "Test notification sent")
	if hits.Load() != 1 {
		t.Fatalf("expected one request, got %d", hits.Load())
	}
}
