package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mkahlert/offlinekit/pkg/client"
	"github.com/mkahlert/offlinekit/pkg/logging"
	"github.com/mkahlert/offlinekit/pkg/storage"
	"github.com/mkahlert/offlinekit/pkg/strategy"
)

func main() {
	// Configuration from environment
	originURL := getEnv("ORIGIN_URL", "")
	if originURL == "" {
		log.Fatal("ORIGIN_URL is required")
	}
	redisURL := getEnv("REDIS_URL", "")
	port := getEnv("PORT", "8080")
	defaultStrategy := getEnv("DEFAULT_STRATEGY", string(strategy.CacheFirst))
	cacheTTL, err := time.ParseDuration(getEnv("CACHE_TTL", "5m"))
	if err != nil {
		log.Fatalf("Invalid CACHE_TTL: %v", err)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "") == "true",
	})

	origin, err := url.Parse(originURL)
	if err != nil {
		log.Fatalf("Invalid ORIGIN_URL: %v", err)
	}

	ctx := context.Background()

	// Redis when configured, in-memory otherwise.
	backend, err := setupBackend(ctx, redisURL)
	if err != nil {
		log.Fatalf("Failed to set up storage backend: %v", err)
	}

	cfg := client.DefaultConfig(backend)
	cfg.DefaultStrategy = strategy.Config{
		Name:    strategy.Name(defaultStrategy),
		TTL:     cacheTTL,
		Timeout: 30 * time.Second,
	}

	offlineClient, err := client.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create offline client: %v", err)
	}

	// Background sync loop for queued mutations.
	go offlineClient.Run(ctx)

	// HTTP Server
	http.HandleFunc("/health", healthHandler)
	http.HandleFunc("/sync", syncHandler(offlineClient))
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/", proxyHandler(offlineClient, origin))

	addr := ":" + port
	log.Printf("Starting offline proxy on %s", addr)
	log.Printf("Origin: %s", originURL)
	log.Printf("Default strategy: %s (TTL %s)", defaultStrategy, cacheTTL)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// setupBackend connects to Redis when REDIS_URL is set and falls back to
// the in-memory backend otherwise.
func setupBackend(ctx context.Context, redisURL string) (storage.Backend, error) {
	if redisURL == "" {
		log.Printf("No REDIS_URL configured, using in-memory storage")
		return storage.NewMemory(), nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: redisURL,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to Redis at %s: %w", redisURL, err)
	}
	log.Printf("Connected to Redis at %s", redisURL)
	return storage.NewRedis(redisClient), nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// syncHandler triggers a drain of the write queue, for callers that know
// connectivity came back before the interval timer does.
func syncHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		c.NotifyOnline()
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, "sync triggered")
	}
}

// proxyHandler forwards requests to the origin through the offline
// client: reads are answered per the configured strategy, mutations are
// queued when the origin is down.
func proxyHandler(c *client.Client, origin *url.URL) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := *origin
		target.Path = r.URL.Path
		target.RawQuery = r.URL.RawQuery

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()

		outReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
		if err != nil {
			http.Error(w, fmt.Sprintf("Bad request: %v", err), http.StatusBadRequest)
			return
		}
		outReq.Header = r.Header.Clone()

		resp, err := c.Handle(outReq)
		if err != nil {
			http.Error(w, fmt.Sprintf("Origin request failed: %v", err), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		for key, values := range resp.Header {
			for _, value := range values {
				w.Header().Add(key, value)
			}
		}
		w.WriteHeader(resp.StatusCode)

		if _, err := io.Copy(w, resp.Body); err != nil {
			log.Printf("Failed to write response: %v", err)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
