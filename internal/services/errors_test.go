package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"tilepipe/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrConversion, "gdal", "convert", "ogr2ogr failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrConversion) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"gdal", "convert", "ogr2ogr failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutCause(t *testing.T) {
	err := services.Wrap(services.ErrUnsupportedFormat, "", "", "", nil)
	if !errors.Is(err, services.ErrUnsupportedFormat) {
		t.Fatalf("expected marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestDetailsClassification(t *testing.T) {
	tests := []struct {
		err  error
		kind string
	}{
		{nil, ""},
		{errors.New("plain"), "unknown"},
		{services.Wrap(services.ErrPayload, "tiles", "decode", "", nil), "payload"},
		{fmt.Errorf("outer: %w", services.Wrap(services.ErrQueue, "gdal", "receive", "", nil)), "queue"},
		{services.Wrap(services.ErrConversion, "gdal", "convert", "", services.ErrTimeout), "timeout"},
	}
	for _, tc := range tests {
		if got := services.Details(tc.err).Kind; got != tc.kind {
			t.Fatalf("Details(%v).Kind = %q, want %q", tc.err, got, tc.kind)
		}
	}
}
