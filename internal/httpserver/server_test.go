package httpserver

import (
	"context"
	"net/http"
	"testing"
)

func TestNewAppliesTimeouts(t *testing.T) {
	srv := New(9091, http.NotFoundHandler())
	if srv.inner.Addr != ":9091" {
		t.Fatalf("unexpected addr %q", srv.inner.Addr)
	}
	if srv.inner.ReadHeaderTimeout == 0 || srv.inner.IdleTimeout == 0 {
		t.Fatalf("expected header and idle timeouts to be set")
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	srv := New(0, http.NotFoundHandler())
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := srv.Start(); err != http.ErrServerClosed {
		t.Fatalf("expected ErrServerClosed after shutdown, got %v", err)
	}
}
