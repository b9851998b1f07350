package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMemoryCacheSetGetAndExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	status := ServiceStatus{Name: "embedding", Status: StatusOnline}

	if _, ok := c.Get(ctx, "embedding:url"); ok {
		t.Fatalf("expected miss before Set")
	}
	c.Set(ctx, "embedding:url", status, 20*time.Millisecond)
	if got, ok := c.Get(ctx, "embedding:url"); !ok || got.Status != StatusOnline {
		t.Fatalf("expected cached hit, got %#v ok=%v", got, ok)
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get(ctx, "embedding:url"); ok {
		t.Fatalf("expected entry to expire after TTL")
	}
}

func TestCheckUnconfiguredURLIsUnknown(t *testing.T) {
	checker := NewChecker(NewMemoryCache(), nil)
	status := checker.Check(context.Background(), "embedding", "")
	if status.Status != StatusUnknown {
		t.Fatalf("expected unknown status for unconfigured url, got %#v", status)
	}
}

func TestCheckOnlineViaHealthEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	checker := NewChecker(NewMemoryCache(), srv.Client())
	status := checker.Check(context.Background(), "embedding", srv.URL)
	if status.Status != StatusOnline {
		t.Fatalf("expected online status, got %#v", status)
	}
}

func TestCheckFallsBackToBareURLOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := NewChecker(NewMemoryCache(), srv.Client())
	status := checker.Check(context.Background(), "embedding", srv.URL)
	if status.Status != StatusOnline {
		t.Fatalf("expected online status via fallback, got %#v", status)
	}
}

func TestCheckOfflineOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	checker := NewChecker(NewMemoryCache(), srv.Client())
	status := checker.Check(context.Background(), "embedding", srv.URL)
	if status.Status != StatusOffline {
		t.Fatalf("expected offline status on 5xx, got %#v", status)
	}
}

func TestCheckOfflineOnTransportError(t *testing.T) {
	checker := NewChecker(NewMemoryCache(), http.DefaultClient)
	status := checker.Check(context.Background(), "embedding", "http://127.0.0.1:1")
	if status.Status != StatusOffline {
		t.Fatalf("expected offline status on transport error, got %#v", status)
	}
}

func TestCheckResultIsCached(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := NewChecker(NewMemoryCache(), srv.Client())
	checker.Check(context.Background(), "embedding", srv.URL)
	checker.Check(context.Background(), "embedding", srv.URL)
	if calls != 1 {
		t.Fatalf("expected second check to be served from cache, got %d probe calls", calls)
	}
}
