package ops

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// SystemStats contains process-level statistics
type SystemStats struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`

	GoVersion     string  `json:"go_version"`
	NumGoroutines int     `json:"goroutines"`
	MemAllocMB    float64 `json:"mem_alloc_mb"`
	MemSysMB      float64 `json:"mem_sys_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// RelayHealth is the outcome of probing one relay
type RelayHealth struct {
	URL       string        `json:"url"`
	Reachable bool          `json:"reachable"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`

	// From the relay information document, when available
	Name          string `json:"name,omitempty"`
	Software      string `json:"software,omitempty"`
	SupportedNIPs []int  `json:"supported_nips,omitempty"`
}

// CacheStats describes the query cache
type CacheStats struct {
	Engine  string `json:"engine"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// RelayProber probes a single relay; it must honor ctx
type RelayProber func(ctx context.Context, url string) RelayHealth

// DiagnosticsCollector collects system diagnostics
type DiagnosticsCollector struct {
	version string
	commit  string
	probe   RelayProber

	cacheEngine string
	cachePing   func(ctx context.Context) error

	// concurrent relay probes
	parallelism int
}

// NewDiagnosticsCollector creates a new diagnostics collector
func NewDiagnosticsCollector(version, commit string, probe RelayProber) *DiagnosticsCollector {
	return &DiagnosticsCollector{
		version:     version,
		commit:      commit,
		probe:       probe,
		parallelism: 8,
	}
}

// SetCache registers the query cache; ping is nil when caching is disabled
func (d *DiagnosticsCollector) SetCache(engine string, ping func(ctx context.Context) error) {
	d.cacheEngine = engine
	d.cachePing = ping
}

// CollectSystemStats collects system-level statistics
func (d *DiagnosticsCollector) CollectSystemStats() *SystemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &SystemStats{
		Version:       d.version,
		Commit:        d.commit,
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemAllocMB:    float64(m.Alloc) / 1024 / 1024,
		MemSysMB:      float64(m.Sys) / 1024 / 1024,
		NumGC:         m.NumGC,
	}
}

// CollectRelayHealth probes every relay concurrently. Results keep the order of urls.
func (d *DiagnosticsCollector) CollectRelayHealth(ctx context.Context, urls []string) []RelayHealth {
	health := make([]RelayHealth, len(urls))
	if d.probe == nil {
		for i, url := range urls {
			health[i] = RelayHealth{URL: url, Error: "no prober configured"}
		}
		return health
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallelism)
	for i, url := range urls {
		g.Go(func() error {
			h := d.probe(gctx, url)
			h.URL = url
			health[i] = h
			return nil
		})
	}
	_ = g.Wait()
	return health
}

// CollectCacheStats pings the cache
func (d *DiagnosticsCollector) CollectCacheStats(ctx context.Context) *CacheStats {
	stats := &CacheStats{Engine: d.cacheEngine}
	if d.cachePing == nil {
		stats.Engine = "disabled"
		return stats
	}
	if err := d.cachePing(ctx); err != nil {
		stats.Error = err.Error()
		return stats
	}
	stats.Healthy = true
	return stats
}

// CollectAll collects all diagnostic information
func (d *DiagnosticsCollector) CollectAll(ctx context.Context, identity string, relays []string) *Diagnostics {
	return &Diagnostics{
		CollectedAt: time.Now(),
		System:      d.CollectSystemStats(),
		Identity:    identity,
		Relays:      d.CollectRelayHealth(ctx, relays),
		Cache:       d.CollectCacheStats(ctx),
	}
}

// Diagnostics contains all diagnostic information
type Diagnostics struct {
	CollectedAt time.Time     `json:"collected_at"`
	System      *SystemStats  `json:"system"`
	Identity    string        `json:"identity,omitempty"`
	Relays      []RelayHealth `json:"relays"`
	Cache       *CacheStats   `json:"cache"`
}

// Reachable counts the relays that answered
func (d *Diagnostics) Reachable() int {
	n := 0
	for _, r := range d.Relays {
		if r.Reachable {
			n++
		}
	}
	return n
}

// FormatAsText formats diagnostics as plain text
func (d *Diagnostics) FormatAsText() string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== zapline Diagnostics ===\n")
	fmt.Fprintf(&b, "Collected: %s\n\n", d.CollectedAt.Format(time.RFC3339))

	fmt.Fprintf(&b, "--- System ---\n")
	fmt.Fprintf(&b, "Version: %s (%s)\n", d.System.Version, d.System.Commit)
	fmt.Fprintf(&b, "Go Version: %s\n", d.System.GoVersion)
	fmt.Fprintf(&b, "Goroutines: %d\n", d.System.NumGoroutines)
	fmt.Fprintf(&b, "Memory: %.2f MB allocated, %.2f MB system\n\n", d.System.MemAllocMB, d.System.MemSysMB)

	fmt.Fprintf(&b, "--- Identity ---\n")
	if d.Identity == "" {
		fmt.Fprintf(&b, "Not configured (read-only)\n\n")
	} else {
		fmt.Fprintf(&b, "%s\n\n", d.Identity)
	}

	fmt.Fprintf(&b, "--- Relay Health (%d/%d reachable) ---\n", d.Reachable(), len(d.Relays))
	for _, relay := range d.Relays {
		if !relay.Reachable {
			fmt.Fprintf(&b, "%s: unreachable\n", relay.URL)
			if relay.Error != "" {
				fmt.Fprintf(&b, "  Error: %s\n", relay.Error)
			}
			continue
		}
		fmt.Fprintf(&b, "%s: ok in %s\n", relay.URL, relay.Latency.Round(time.Millisecond))
		if relay.Name != "" || relay.Software != "" {
			fmt.Fprintf(&b, "  Name: %s  Software: %s\n", relay.Name, relay.Software)
		}
		if len(relay.SupportedNIPs) > 0 {
			nips := append([]int(nil), relay.SupportedNIPs...)
			sort.Ints(nips)
			fmt.Fprintf(&b, "  NIPs: %s\n", strings.Trim(fmt.Sprint(nips), "[]"))
		}
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "--- Cache ---\n")
	fmt.Fprintf(&b, "Engine: %s\n", d.Cache.Engine)
	if d.Cache.Engine != "disabled" {
		if d.Cache.Healthy {
			fmt.Fprintf(&b, "Status: healthy\n")
		} else {
			fmt.Fprintf(&b, "Status: failing (%s)\n", d.Cache.Error)
		}
	}

	return b.String()
}
