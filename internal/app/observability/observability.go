// Package observability records per-route request counters and latency,
// writes one JSON access line per request and serves them as text metrics.
package observability

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"leveltest/internal/auth"

	"github.com/go-chi/chi/v5/middleware"
)

const metricPrefix = "leveltest_"

type key struct {
	Method string
	Path   string
	Status int
}

type stat struct {
	Count     int64
	LatencyMS float64
}

type Collector struct {
	db *sql.DB

	mu           sync.RWMutex
	requestStats map[key]stat
	startedAt    time.Time
}

// NewCollector accepts a nil db; pool gauges are then omitted.
func NewCollector(db *sql.DB) *Collector {
	return &Collector{
		db:           db,
		requestStats: make(map[key]stat),
		startedAt:    time.Now(),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

// Middleware must run after the session has been loaded so that the access
// line carries the user id.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		path := normalizedPath(r.URL.Path)

		c.mu.Lock()
		k := key{Method: r.Method, Path: path, Status: rec.status}
		s := c.requestStats[k]
		s.Count++
		s.LatencyMS += latencyMS
		c.requestStats[k] = s
		c.mu.Unlock()

		userID := int64(0)
		if p, ok := auth.CurrentPrincipal(r.Context()); ok {
			userID = p.UserID
		}

		entry := map[string]any{
			"request_id": middleware.GetReqID(r.Context()),
			"user_id":    userID,
			"test_id":    extractTestID(r.URL.Path),
			"method":     r.Method,
			"path":       path,
			"status":     rec.status,
			"latency_ms": latencyMS,
			"remote_ip":  strings.TrimSpace(r.RemoteAddr),
		}
		b, _ := json.Marshal(entry)
		log.Printf("%s", string(b))
	})
}

func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	statsCopy := make(map[key]stat, len(c.requestStats))
	for k, v := range c.requestStats {
		statsCopy[k] = v
	}
	startedAt := c.startedAt
	c.mu.RUnlock()

	keys := make([]key, 0, len(statsCopy))
	for k := range statsCopy {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Status < keys[j].Status
	})

	var sb strings.Builder
	sb.WriteString("# leveltest observability metrics\n")
	writeMetric(&sb, "uptime_seconds", "gauge", "", fmt.Sprintf("%.0f", time.Since(startedAt).Seconds()))

	sb.WriteString("# TYPE " + metricPrefix + "http_requests_total counter\n")
	sb.WriteString("# TYPE " + metricPrefix + "http_request_latency_ms_sum counter\n")
	sb.WriteString("# TYPE " + metricPrefix + "http_request_latency_ms_avg gauge\n")
	for _, k := range keys {
		s := statsCopy[k]
		labels := fmt.Sprintf("{method=\"%s\",path=\"%s\",status=\"%d\"}", k.Method, k.Path, k.Status)
		avg := 0.0
		if s.Count > 0 {
			avg = s.LatencyMS / float64(s.Count)
		}
		fmt.Fprintf(&sb, "%shttp_requests_total%s %d\n", metricPrefix, labels, s.Count)
		fmt.Fprintf(&sb, "%shttp_request_latency_ms_sum%s %.3f\n", metricPrefix, labels, s.LatencyMS)
		fmt.Fprintf(&sb, "%shttp_request_latency_ms_avg%s %.3f\n", metricPrefix, labels, avg)
	}

	if c.db != nil {
		dbs := c.db.Stats()
		writeMetric(&sb, "db_open_connections", "gauge", "", strconv.Itoa(dbs.OpenConnections))
		writeMetric(&sb, "db_in_use_connections", "gauge", "", strconv.Itoa(dbs.InUse))
		writeMetric(&sb, "db_idle_connections", "gauge", "", strconv.Itoa(dbs.Idle))
		writeMetric(&sb, "db_wait_count", "counter", "", strconv.FormatInt(dbs.WaitCount, 10))
		writeMetric(&sb, "db_wait_duration_ms", "counter", "", fmt.Sprintf("%.3f", float64(dbs.WaitDuration.Microseconds())/1000.0))
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

func writeMetric(sb *strings.Builder, name, kind, labels, value string) {
	fmt.Fprintf(sb, "# TYPE %s%s %s\n", metricPrefix, name, kind)
	fmt.Fprintf(sb, "%s%s%s %s\n", metricPrefix, name, labels, value)
}

func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	if strings.HasPrefix(path, "/static/") {
		return "/static/*"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// extractTestID finds the test id in test-taking and admin question URLs.
func extractTestID(path string) int64 {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) >= 2 && (parts[0] == "test" || parts[0] == "submit"):
		return parseID(parts[1])
	case len(parts) >= 3 && parts[0] == "admin" && (parts[1] == "manage-questions" || parts[1] == "delete-test"):
		return parseID(parts[2])
	case len(parts) >= 4 && parts[0] == "admin" && parts[1] == "delete-question":
		return parseID(parts[3])
	}
	return 0
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
