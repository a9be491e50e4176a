package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

type authEventLabel struct {
	event   string
	outcome string
}

// Recorder aggregates in-memory metrics counters for HTTP requests,
// authentication events, and rate-limit rejections. It coordinates concurrent
// writers via a RWMutex.
type Recorder struct {
	mu                 sync.RWMutex
	requestCount       map[requestLabel]uint64
	requestDuration    map[requestLabel]time.Duration
	authEvents         map[authEventLabel]uint64
	throttleRejections map[string]uint64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:       make(map[requestLabel]uint64),
		requestDuration:    make(map[requestLabel]time.Duration),
		authEvents:         make(map[authEventLabel]uint64),
		throttleRejections: make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveAuthEvent records an authentication lifecycle event (login, refresh,
// logout, register, change_password) with its outcome.
func (r *Recorder) ObserveAuthEvent(event, outcome string) {
	label := authEventLabel{
		event:   normalizeName(event),
		outcome: normalizeName(outcome),
	}
	r.mu.Lock()
	r.authEvents[label]++
	r.mu.Unlock()
}

// ObserveThrottleRejection records a request rejected by the rate limiter,
// keyed by route group.
func (r *Recorder) ObserveThrottleRejection(route string) {
	normalized := normalizeName(route)
	r.mu.Lock()
	r.throttleRejections[normalized]++
	r.mu.Unlock()
}

// AuthEventCount returns the accumulated counter for the given event and
// outcome. It is intended for tests.
func (r *Recorder) AuthEventCount(event, outcome string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.authEvents[authEventLabel{event: normalizeName(event), outcome: normalizeName(outcome)}]
}

// Reset clears all counters on the recorder. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.authEvents = make(map[authEventLabel]uint64)
	r.throttleRejections = make(map[string]uint64)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	authLabels := r.sortedAuthEventLabels()
	throttleRoutes := r.sortedThrottleRoutes()

	fmt.Fprintln(w, "# HELP cliptide_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE cliptide_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "cliptide_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP cliptide_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE cliptide_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "cliptide_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP cliptide_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE cliptide_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "cliptide_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP cliptide_auth_events_total Authentication events by type and outcome")
	fmt.Fprintln(w, "# TYPE cliptide_auth_events_total counter")
	for _, label := range authLabels {
		count := r.authEvents[label]
		fmt.Fprintf(w, "cliptide_auth_events_total{event=\"%s\",outcome=\"%s\"} %d\n", label.event, label.outcome, count)
	}

	fmt.Fprintln(w, "# HELP cliptide_throttle_rejections_total Requests rejected by the rate limiter by route group")
	fmt.Fprintln(w, "# TYPE cliptide_throttle_rejections_total counter")
	for _, route := range throttleRoutes {
		count := r.throttleRejections[route]
		fmt.Fprintf(w, "cliptide_throttle_rejections_total{route=\"%s\"} %d\n", route, count)
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedAuthEventLabels() []authEventLabel {
	labels := make([]authEventLabel, 0, len(r.authEvents))
	for label := range r.authEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].event != labels[j].event {
			return labels[i].event < labels[j].event
		}
		return labels[i].outcome < labels[j].outcome
	})
	return labels
}

func (r *Recorder) sortedThrottleRoutes() []string {
	routes := make([]string, 0, len(r.throttleRejections))
	for route := range r.throttleRejections {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	return routes
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveAuthEvent records an authentication event on the default recorder.
func ObserveAuthEvent(event, outcome string) {
	defaultRecorder.ObserveAuthEvent(event, outcome)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
