package metrics

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const prefix = "ytvpn_"

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Request metrics
	requestCount    map[string]*uint64     // endpoint:method -> count
	requestDuration map[string]*Histogram // endpoint:method -> duration histogram
	requestErrors   map[string]*uint64     // endpoint:method:status_class -> count

	// Queue metrics
	activeWSConnections int64
	downloadQueueLength int64
	jobsInFlight        int64
	jobDuration         *Histogram

	// Custom gauges and counters
	gauges   map[string]float64
	counters map[string]*uint64

	startTime time.Time
}

// Histogram tracks value distributions
type Histogram struct {
	mu         sync.Mutex
	count      uint64
	sum        float64
	buckets    []float64
	bucketVals []uint64
}

// requestBuckets: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s
var requestBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// jobBuckets cover a download from a few seconds up to the 10 minute bound
var jobBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600}

// NewHistogram creates a histogram with the request latency buckets
func NewHistogram() *Histogram {
	return newHistogram(requestBuckets)
}

func newHistogram(buckets []float64) *Histogram {
	return &Histogram{
		buckets:    buckets,
		bucketVals: make([]uint64, len(buckets)),
	}
}

// Observe records a value
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.buckets {
		if v <= b {
			h.bucketVals[i]++
		}
	}
}

func (h *Histogram) write(sb *strings.Builder, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sep := ""
	if labels != "" {
		sep = ","
	}
	for i, bucket := range h.buckets {
		fmt.Fprintf(sb, "%s_bucket{%s%sle=\"%g\"} %d\n", name, labels, sep, bucket, h.bucketVals[i])
	}
	fmt.Fprintf(sb, "%s_bucket{%s%sle=\"+Inf\"} %d\n", name, labels, sep, h.count)
	if labels != "" {
		fmt.Fprintf(sb, "%s_sum{%s} %f\n", name, labels, h.sum)
		fmt.Fprintf(sb, "%s_count{%s} %d\n", name, labels, h.count)
	} else {
		fmt.Fprintf(sb, "%s_sum %f\n", name, h.sum)
		fmt.Fprintf(sb, "%s_count %d\n", name, h.count)
	}
}

// New creates a new Metrics instance
func New() *Metrics {
	return &Metrics{
		requestCount:    make(map[string]*uint64),
		requestDuration: make(map[string]*Histogram),
		requestErrors:   make(map[string]*uint64),
		jobDuration:     newHistogram(jobBuckets),
		gauges:          make(map[string]float64),
		counters:        make(map[string]*uint64),
		startTime:       time.Now(),
	}
}

// global metrics instance
var defaultMetrics = New()

// Default returns the default metrics instance
func Default() *Metrics {
	return defaultMetrics
}

// RecordRequest records a request
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	key := fmt.Sprintf("%s:%s", normalizeEndpoint(path), method)

	m.mu.Lock()
	if m.requestCount[key] == nil {
		var zero uint64
		m.requestCount[key] = &zero
	}
	if m.requestDuration[key] == nil {
		m.requestDuration[key] = NewHistogram()
	}
	count, hist := m.requestCount[key], m.requestDuration[key]
	m.mu.Unlock()

	atomic.AddUint64(count, 1)
	hist.Observe(duration.Seconds())

	// Track errors by status class
	if statusCode >= 400 {
		errorKey := fmt.Sprintf("%s:%d", key, statusCode/100*100)
		m.mu.Lock()
		if m.requestErrors[errorKey] == nil {
			var zero uint64
			m.requestErrors[errorKey] = &zero
		}
		errCount := m.requestErrors[errorKey]
		m.mu.Unlock()
		atomic.AddUint64(errCount, 1)
	}
}

// normalizeEndpoint replaces job ids and UUIDs with a placeholder
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
		} else if len(part) > 0 && isNumeric(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	atomic.AddInt64(&m.activeWSConnections, 1)
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	atomic.AddInt64(&m.activeWSConnections, -1)
}

// SetDownloadQueueLength sets the backlog length
func (m *Metrics) SetDownloadQueueLength(length int64) {
	atomic.StoreInt64(&m.downloadQueueLength, length)
}

// SetJobsInFlight sets the number of jobs being processed (0 or 1)
func (m *Metrics) SetJobsInFlight(n int64) {
	atomic.StoreInt64(&m.jobsInFlight, n)
}

// ObserveJobDuration records how long a finished job took from start to end
func (m *Metrics) ObserveJobDuration(d time.Duration) {
	m.jobDuration.Observe(d.Seconds())
}

// SetGauge sets a gauge value
func (m *Metrics) SetGauge(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
}

// IncCounter increments a counter
func (m *Metrics) IncCounter(name string) {
	m.mu.Lock()
	if m.counters[name] == nil {
		var zero uint64
		m.counters[name] = &zero
	}
	c := m.counters[name]
	m.mu.Unlock()
	atomic.AddUint64(c, 1)
}

// Counter returns the current value of a custom counter
func (m *Metrics) Counter(name string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.counters[name]
	if c == nil {
		return 0
	}
	return atomic.LoadUint64(c)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		uptime := time.Since(m.startTime).Seconds()
		sb.WriteString("# HELP " + prefix + "uptime_seconds Time since the server started\n")
		sb.WriteString("# TYPE " + prefix + "uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "%suptime_seconds %f\n\n", prefix, uptime)

		sb.WriteString("# HELP " + prefix + "websocket_connections_active Active WebSocket connections\n")
		sb.WriteString("# TYPE " + prefix + "websocket_connections_active gauge\n")
		fmt.Fprintf(&sb, "%swebsocket_connections_active %d\n\n", prefix, atomic.LoadInt64(&m.activeWSConnections))

		sb.WriteString("# HELP " + prefix + "download_queue_length Jobs waiting in the backlog\n")
		sb.WriteString("# TYPE " + prefix + "download_queue_length gauge\n")
		fmt.Fprintf(&sb, "%sdownload_queue_length %d\n\n", prefix, atomic.LoadInt64(&m.downloadQueueLength))

		sb.WriteString("# HELP " + prefix + "jobs_in_flight Jobs currently downloading\n")
		sb.WriteString("# TYPE " + prefix + "jobs_in_flight gauge\n")
		fmt.Fprintf(&sb, "%sjobs_in_flight %d\n\n", prefix, atomic.LoadInt64(&m.jobsInFlight))

		sb.WriteString("# HELP " + prefix + "job_duration_seconds Time from job start to completion\n")
		sb.WriteString("# TYPE " + prefix + "job_duration_seconds histogram\n")
		m.jobDuration.write(&sb, prefix+"job_duration_seconds", "")
		sb.WriteString("\n")

		m.mu.RLock()
		if len(m.requestCount) > 0 {
			sb.WriteString("# HELP " + prefix + "http_requests_total Total HTTP requests\n")
			sb.WriteString("# TYPE " + prefix + "http_requests_total counter\n")
			for _, key := range sortedKeys(m.requestCount) {
				parts := strings.SplitN(key, ":", 2)
				if len(parts) == 2 {
					count := atomic.LoadUint64(m.requestCount[key])
					fmt.Fprintf(&sb, "%shttp_requests_total{endpoint=\"%s\",method=\"%s\"} %d\n", prefix, parts[0], parts[1], count)
				}
			}
			sb.WriteString("\n")
		}

		if len(m.requestDuration) > 0 {
			sb.WriteString("# HELP " + prefix + "http_request_duration_seconds HTTP request latency\n")
			sb.WriteString("# TYPE " + prefix + "http_request_duration_seconds histogram\n")
			for _, key := range sortedKeys(m.requestDuration) {
				parts := strings.SplitN(key, ":", 2)
				if len(parts) == 2 {
					labels := fmt.Sprintf("endpoint=\"%s\",method=\"%s\"", parts[0], parts[1])
					m.requestDuration[key].write(&sb, prefix+"http_request_duration_seconds", labels)
				}
			}
			sb.WriteString("\n")
		}

		if len(m.requestErrors) > 0 {
			sb.WriteString("# HELP " + prefix + "http_errors_total Total HTTP errors by status class\n")
			sb.WriteString("# TYPE " + prefix + "http_errors_total counter\n")
			for _, key := range sortedKeys(m.requestErrors) {
				// endpoint:method:statusClass
				parts := strings.Split(key, ":")
				if len(parts) >= 3 {
					count := atomic.LoadUint64(m.requestErrors[key])
					fmt.Fprintf(&sb, "%shttp_errors_total{endpoint=\"%s\",method=\"%s\",status_class=\"%sxx\"} %d\n", prefix, parts[0], parts[1], parts[2][:1], count)
				}
			}
			sb.WriteString("\n")
		}

		if len(m.gauges) > 0 {
			sb.WriteString("# HELP " + prefix + "gauge Custom gauge metrics\n")
			sb.WriteString("# TYPE " + prefix + "gauge gauge\n")
			for _, name := range sortedKeys(m.gauges) {
				fmt.Fprintf(&sb, "%sgauge{name=\"%s\"} %f\n", prefix, name, m.gauges[name])
			}
			sb.WriteString("\n")
		}

		if len(m.counters) > 0 {
			sb.WriteString("# HELP " + prefix + "counter Custom counter metrics\n")
			sb.WriteString("# TYPE " + prefix + "counter counter\n")
			for _, name := range sortedKeys(m.counters) {
				count := atomic.LoadUint64(m.counters[name])
				fmt.Fprintf(&sb, "%scounter{name=\"%s\"} %d\n", prefix, name, count)
			}
		}
		m.mu.RUnlock()

		w.Write([]byte(sb.String()))
	}
}

// MetricsMiddleware creates middleware that records request metrics
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &statusResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			m.RecordRequest(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *statusResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Flush lets streamed responses pass through the wrapper
func (w *statusResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes websocket upgrades through to the underlying writer
func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}
