package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	assessmentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessments_created_total",
			Help: "Total number of risk assessments created",
		},
		[]string{"ideation_level", "behavior_level"},
	)

	studentsImported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "students_imported_total",
			Help: "Spreadsheet rows processed by the student import",
		},
		[]string{"result"},
	)

	reportsRendered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reports_rendered_total",
			Help: "Total number of PDF reports rendered",
		},
		[]string{"kind"},
	)

	appointmentsChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointments_changed_total",
			Help: "Appointment lifecycle changes",
		},
		[]string{"action"},
	)

	authAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)

	auditEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries created",
		},
	)

	statsCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stats_cache_total",
			Help: "Statistics cache lookups by result",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := routePattern(r)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern labels requests by their chi route template so ids do not
// blow up label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// --- Business metric helpers ---

func RecordAssessmentCreated(ideationLevel, behaviorLevel string) {
	assessmentsCreated.WithLabelValues(ideationLevel, behaviorLevel).Inc()
}

// RecordStudentImport records imported and failed spreadsheet rows
func RecordStudentImport(imported, failed int) {
	studentsImported.WithLabelValues("imported").Add(float64(imported))
	studentsImported.WithLabelValues("failed").Add(float64(failed))
}

func RecordReportRendered(kind string) {
	reportsRendered.WithLabelValues(kind).Inc()
}

func RecordAppointmentChange(action string) {
	appointmentsChanged.WithLabelValues(action).Inc()
}

func RecordAuthAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	authAttempts.WithLabelValues(result).Inc()
}

func RecordAuditEntry() {
	auditEntriesTotal.Inc()
}

func RecordStatsCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	statsCache.WithLabelValues(result).Inc()
}
