package http

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/aussiebroadwan/fintab/pkg/authsdk"
	"github.com/aussiebroadwan/fintab/pkg/httpx"
	"github.com/aussiebroadwan/fintab/pkg/slogx"
)

// Pinger is a dependency the health endpoints probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependency is a named probe with the latency above which it counts as
// degraded. A zero threshold never degrades.
type Dependency struct {
	Name     string
	Pinger   Pinger
	Degraded time.Duration
}

// Latency thresholds for the detailed endpoint.
const (
	StoreDegradedAfter = 1000 * time.Millisecond
	CacheDegradedAfter = 500 * time.Millisecond
)

const probeTimeout = 2 * time.Second

// Health serves the /health family.
type Health struct {
	Deps      []Dependency
	Version   string
	StartTime time.Time
}

// probe pings every dependency. Any error makes the service unhealthy, a slow
// answer only degrades it and only when withLatency is set.
func (h *Health) probe(ctx context.Context, withLatency bool) (string, map[string]authsdk.CheckResult) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	overall := authsdk.StatusHealthy
	checks := make(map[string]authsdk.CheckResult, len(h.Deps))
	for _, d := range h.Deps {
		start := time.Now()
		err := d.Pinger.Ping(ctx)
		elapsed := time.Since(start)

		res := authsdk.CheckResult{Status: authsdk.StatusHealthy, LatencyMS: elapsed.Milliseconds()}
		switch {
		case err != nil:
			res.Status = authsdk.StatusUnhealthy
			res.Error = err.Error()
			overall = authsdk.StatusUnhealthy
			slogx.FromContext(ctx).Warn("health check failed", "dependency", d.Name, "err", err)
		case withLatency && d.Degraded > 0 && elapsed > d.Degraded:
			res.Status = authsdk.StatusDegraded
			if overall == authsdk.StatusHealthy {
				overall = authsdk.StatusDegraded
			}
		}
		checks[d.Name] = res
	}
	return overall, checks
}

func (h *Health) response(status string) authsdk.HealthResponse {
	return authsdk.HealthResponse{
		Status:  status,
		Uptime:  time.Since(h.StartTime).String(),
		Version: h.Version,
	}
}

func statusCode(status string) int {
	if status == authsdk.StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// Live always answers 200 while the process serves requests.
func (h *Health) Live(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.response(authsdk.StatusHealthy))
}

// Ready reports store and cache connectivity, 503 when either is down.
func (h *Health) Ready(w http.ResponseWriter, r *http.Request) {
	status, checks := h.probe(r.Context(), false)
	resp := h.response(status)
	resp.Checks = checks
	httpx.WriteJSON(w, statusCode(status), resp)
}

// Detailed adds probe latency thresholds and process statistics.
func (h *Health) Detailed(w http.ResponseWriter, r *http.Request) {
	status, checks := h.probe(r.Context(), true)
	resp := h.response(status)
	resp.Checks = checks
	resp.Process = processStats(r.Context())
	if p, ok := httpx.PrincipalFrom(r.Context()); ok {
		resp.Caller = p.ID
	}
	httpx.WriteJSON(w, statusCode(status), resp)
}

func processStats(ctx context.Context) *authsdk.ProcessStats {
	stats := &authsdk.ProcessStats{Goroutines: runtime.NumGoroutine()}

	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		slogx.FromContext(ctx).Warn("process stats unavailable", "err", err)
		return stats
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		stats.RSSBytes = mem.RSS
	}
	return stats
}
