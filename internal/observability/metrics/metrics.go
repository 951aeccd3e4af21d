package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Upload outcome labels recorded by the relay orchestrator.
const (
	OutcomeSuccess        = "success"
	OutcomeValidation     = "validation"
	OutcomeNoAccount      = "no_account"
	OutcomeTransportError = "transport_error"
	OutcomeLogicalError   = "logical_error"
	OutcomeUnexpected     = "unexpected"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory counters for HTTP requests and upload
// outcomes, exposed in Prometheus text format.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	uploadOutcomes  map[string]uint64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		uploadOutcomes:  make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not wire
// their own instance.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest records an HTTP request with its status and duration.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	label := requestLabel{method: method, path: path, status: fmt.Sprintf("%d", status)}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveUpload records one upload attempt by outcome label.
func (r *Recorder) ObserveUpload(outcome string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.uploadOutcomes[outcome]++
	r.mu.Unlock()
}

// UploadCount returns the current counter for an outcome label.
func (r *Recorder) UploadCount(outcome string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.uploadOutcomes[outcome]
}

// Handler serves the counters in Prometheus text exposition format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		r.mu.RLock()
		defer r.mu.RUnlock()

		requestLabels := make([]requestLabel, 0, len(r.requestCount))
		for label := range r.requestCount {
			requestLabels = append(requestLabels, label)
		}
		sort.Slice(requestLabels, func(i, j int) bool {
			a, b := requestLabels[i], requestLabels[j]
			if a.path != b.path {
				return a.path < b.path
			}
			if a.method != b.method {
				return a.method < b.method
			}
			return a.status < b.status
		})
		for _, label := range requestLabels {
			fmt.Fprintf(w, "tikrelay_http_requests_total{method=%q,path=%q,status=%q} %d\n",
				label.method, label.path, label.status, r.requestCount[label])
		}
		for _, label := range requestLabels {
			fmt.Fprintf(w, "tikrelay_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n",
				label.method, label.path, label.status, r.requestDuration[label].Seconds())
		}

		outcomes := make([]string, 0, len(r.uploadOutcomes))
		for outcome := range r.uploadOutcomes {
			outcomes = append(outcomes, outcome)
		}
		sort.Strings(outcomes)
		for _, outcome := range outcomes {
			fmt.Fprintf(w, "tikrelay_upload_outcomes_total{outcome=%q} %d\n", outcome, r.uploadOutcomes[outcome])
		}
	})
}
