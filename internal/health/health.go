// Package health implements the service-health cache and probe
// contract of spec.md §6: GET "<url>/health", falling back to GET
// "<url>" on a 404; any 2xx-4xx response within 2s is online, a 5xx or
// transport error is offline, results are cached for 10s keyed
// "name:url". The cache is a small interface with an in-process map
// implementation and an optional Redis-backed one for multi-instance
// deployments sharing a single cache (SPEC_FULL §C.2).
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status is the probe outcome for one upstream service.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

// ServiceStatus is one cached probe result.
type ServiceStatus struct {
	Name      string
	Status    Status
	Details   string
	CheckedAt time.Time
}

// Cache stores ServiceStatus values with a per-entry TTL. Implementations
// must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (ServiceStatus, bool)
	Set(ctx context.Context, key string, status ServiceStatus, ttl time.Duration)
}

const (
	probeTimeout = 2 * time.Second
	cacheTTL     = 10 * time.Second
)

// Checker probes configured upstream services and caches results.
type Checker struct {
	cache  Cache
	client *http.Client
}

// NewChecker builds a Checker backed by cache. If client is nil,
// http.DefaultClient is used (each probe still applies its own 2s
// timeout via context).
func NewChecker(cache Cache, client *http.Client) *Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return &Checker{cache: cache, client: client}
}

// Check returns the cached status for name/url if still fresh,
// otherwise probes it and caches the result for 10s.
func (c *Checker) Check(ctx context.Context, name, url string) ServiceStatus {
	key := cacheKey(name, url)
	if cached, ok := c.cache.Get(ctx, key); ok {
		return cached
	}

	status := c.probe(ctx, name, url)
	c.cache.Set(ctx, key, status, cacheTTL)
	return status
}

func cacheKey(name, url string) string {
	return fmt.Sprintf("%s:%s", name, url)
}

// probe implements the GET <url>/health-falling-back-to-GET-<url>
// contract. A configuration error (empty url) is reported as unknown
// rather than defaulted or silently skipped, per spec.md §7.
func (c *Checker) probe(ctx context.Context, name, url string) ServiceStatus {
	now := time.Now().UTC()
	if url == "" {
		return ServiceStatus{Name: name, Status: StatusUnknown, Details: "URL not configured", CheckedAt: now}
	}

	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	status, details, err := c.probeOnce(pctx, url+"/health")
	if err == nil && status == http.StatusNotFound {
		status, details, err = c.probeOnce(pctx, url)
	}
	if err != nil {
		return ServiceStatus{Name: name, Status: StatusOffline, Details: err.Error(), CheckedAt: now}
	}
	if status/100 == 5 {
		return ServiceStatus{Name: name, Status: StatusOffline, Details: details, CheckedAt: now}
	}
	return ServiceStatus{Name: name, Status: StatusOnline, Details: details, CheckedAt: now}
}

func (c *Checker) probeOnce(ctx context.Context, url string) (statusCode int, details string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	return resp.StatusCode, resp.Status, nil
}

// MemoryCache is an in-process, mutex-guarded TTL cache, the default
// Cache implementation when no Redis address is configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	status   ServiceStatus
	expireAt time.Time
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)

func (c *MemoryCache) Get(ctx context.Context, key string) (ServiceStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expireAt) {
		return ServiceStatus{}, false
	}
	return e.status, true
}

func (c *MemoryCache) Set(ctx context.Context, key string, status ServiceStatus, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{status: status, expireAt: time.Now().Add(ttl)}
}
