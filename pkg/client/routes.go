package client

import (
	"sort"
	"strings"
	"sync"

	"github.com/mkahlert/offlinekit/pkg/strategy"
)

// defaultRoute labels unmatched requests in logs and metrics.
const defaultRoute = "default"

// routeTable maps path-prefix patterns to strategy configs. The most
// specific (longest) matching pattern wins; unmatched paths get the
// fallback strategy. Configs are immutable once registered.
type routeTable struct {
	mu       sync.RWMutex
	routes   []route
	fallback strategy.Config
}

type route struct {
	pattern string
	cfg     strategy.Config
}

func newRouteTable(fallback strategy.Config) *routeTable {
	return &routeTable{fallback: fallback}
}

// register attaches cfg to a path-prefix pattern. Registering the same
// pattern again replaces the earlier config.
func (t *routeTable) register(pattern string, cfg strategy.Config) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.routes {
		if t.routes[i].pattern == pattern {
			t.routes[i].cfg = cfg
			return
		}
	}

	t.routes = append(t.routes, route{pattern: pattern, cfg: cfg})
	// Longest pattern first so the first match is the most specific.
	sort.Slice(t.routes, func(i, j int) bool {
		return len(t.routes[i].pattern) > len(t.routes[j].pattern)
	})
}

// match resolves the strategy for a request path.
func (t *routeTable) match(path string) (string, strategy.Config) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, r := range t.routes {
		if strings.HasPrefix(path, r.pattern) {
			return r.pattern, r.cfg
		}
	}
	return defaultRoute, t.fallback
}
