package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interview_gateway_active_sessions",
		Help: "Number of interview sessions in progress",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_sessions_total",
		Help: "Total number of finished interview sessions by end reason",
	}, []string{"reason"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_gateway_session_duration_seconds",
		Help:    "Duration of interview sessions in seconds",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 900, 1800},
	})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_turns_total",
		Help: "Completed turns by role and outcome",
	}, []string{"role", "outcome"})

	// Recognition metrics
	recognitionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_recognition_errors_total",
		Help: "Speech recognition errors by classification",
	}, []string{"kind"})

	recognitionRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interview_gateway_recognition_restarts_total",
		Help: "Recognition engine restarts after network faults",
	})

	answerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_gateway_answer_seconds",
		Help:    "Time from listening start to a finalized answer",
		Buckets: []float64{2, 5, 10, 20, 40, 60, 120},
	})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_tts_requests_total",
		Help: "Total number of TTS playbacks",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_gateway_tts_playback_seconds",
		Help:    "TTS synthesis plus playback time in seconds",
		Buckets: []float64{0.5, 1.0, 2.0, 5.0, 10.0, 20.0},
	})

	// Analytics metrics
	analyticsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_analytics_requests_total",
		Help: "Total number of analytics requests",
	}, []string{"status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "interview_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single interview session
type Metrics struct {
	sessionID    string
	startTime    time.Time
	listenStart  time.Time
	ttsStartTime time.Time
	mu           sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd records the end of a session with its end reason
func (m *Metrics) RecordSessionEnd(reason string) {
	activeSessions.Dec()
	sessionsTotal.WithLabelValues(reason).Inc()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordListenStart marks the moment the recognizer was armed
func (m *Metrics) RecordListenStart() {
	m.mu.Lock()
	m.listenStart = time.Now()
	m.mu.Unlock()
}

// RecordTurn records a finished turn. outcome is "answered", "skipped" or "spoken".
func (m *Metrics) RecordTurn(role, outcome string) {
	turnsTotal.WithLabelValues(role, outcome).Inc()
	if role != "user" || outcome != "answered" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.listenStart.IsZero() {
		answerLatency.Observe(time.Since(m.listenStart).Seconds())
	}
}

// RecordRecognitionError records a classified recognition error
func (m *Metrics) RecordRecognitionError(kind string) {
	recognitionErrors.WithLabelValues(kind).Inc()
}

// RecordRecognitionRestart records a recognizer restart
func (m *Metrics) RecordRecognitionRestart() {
	recognitionRestarts.Inc()
}

// RecordTTSStart records the start of TTS playback
func (m *Metrics) RecordTTSStart() {
	m.mu.Lock()
	m.ttsStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTTSEnd records the end of TTS playback
func (m *Metrics) RecordTTSEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ttsStartTime.IsZero() {
		ttsLatency.Observe(time.Since(m.ttsStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	ttsRequests.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordAnalyticsRequest records the result of an analytics call
func RecordAnalyticsRequest(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	analyticsRequests.WithLabelValues(status).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
