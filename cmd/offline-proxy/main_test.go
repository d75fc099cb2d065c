package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkahlert/offlinekit/internal/testutil"
	"github.com/mkahlert/offlinekit/pkg/client"
	"github.com/mkahlert/offlinekit/pkg/storage"
	"github.com/mkahlert/offlinekit/pkg/strategy"
)

func setupProxyClient(t *testing.T) (*client.Client, *testutil.MockOrigin) {
	t.Helper()

	origin := testutil.NewMockOrigin()
	t.Cleanup(origin.Close)

	cfg := client.DefaultConfig(storage.NewMemory())
	cfg.Network = &http.Client{Timeout: 2 * time.Second}
	cfg.DefaultStrategy = strategy.Config{Name: strategy.CacheFirst, TTL: time.Minute}

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c, origin
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestSetupBackend_MemoryFallback(t *testing.T) {
	backend, err := setupBackend(context.Background(), "")
	if err != nil {
		t.Fatalf("setupBackend failed: %v", err)
	}
	if _, ok := backend.(*storage.Memory); !ok {
		t.Errorf("Expected in-memory backend without REDIS_URL, got %T", backend)
	}
}

func TestProxyHandler_ForwardsAndCaches(t *testing.T) {
	c, origin := setupProxyClient(t)
	origin.SetResponse("/items/1", testutil.NewHealthyResponse(`{"id":1}`))

	originURL, _ := url.Parse(origin.URL())
	handler := proxyHandler(c, originURL)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/items/1", nil)
		w := httptest.NewRecorder()
		handler(w, req)

		resp := w.Result()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Request %d: status = %d, want 200", i, resp.StatusCode)
		}
		if string(body) != `{"id":1}` {
			t.Errorf("Request %d: body = %q", i, string(body))
		}
	}

	if origin.GetRequestCount() != 1 {
		t.Errorf("Origin saw %d requests, want 1 (second answered from cache)", origin.GetRequestCount())
	}
}

func TestProxyHandler_OfflineMutationAnswers202(t *testing.T) {
	c, origin := setupProxyClient(t)
	origin.SetOffline(true)

	originURL, _ := url.Parse(origin.URL())
	handler := proxyHandler(c, originURL)

	req := httptest.NewRequest("PUT", "/items/1", strings.NewReader(`{"id":1}`))
	w := httptest.NewRecorder()
	handler(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Status = %d, want 202", resp.StatusCode)
	}
	if resp.Header.Get("X-Sync-Status") != "queued" {
		t.Errorf("X-Sync-Status = %q, want queued", resp.Header.Get("X-Sync-Status"))
	}
	if c.Queue().Len() != 1 {
		t.Errorf("Queue length = %d, want 1", c.Queue().Len())
	}
}

func TestSyncHandler(t *testing.T) {
	c, _ := setupProxyClient(t)
	handler := syncHandler(c)

	t.Run("post_triggers", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/sync", nil)
		w := httptest.NewRecorder()
		handler(w, req)

		if w.Result().StatusCode != http.StatusAccepted {
			t.Errorf("Status = %d, want 202", w.Result().StatusCode)
		}
	})

	t.Run("get_rejected", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/sync", nil)
		w := httptest.NewRecorder()
		handler(w, req)

		if w.Result().StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("Status = %d, want 405", w.Result().StatusCode)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	// Creating a client registers all offlinekit metrics.
	setupProxyClient(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	promhttp.Handler().ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
	if !strings.Contains(bodyStr, "offlinekit_queue_depth") {
		t.Error("Expected metrics output to contain offlinekit_queue_depth")
	}
}
