package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServiceName labels logs and health responses.
const ServiceName = "voice-studio"

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_studio_active_sessions",
		Help: "Number of open transcription sessions",
	})

	totalSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_studio_sessions_total",
		Help: "Total number of transcription sessions started",
	}, []string{"mode"}) // mode: "live" or "file"

	sessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_studio_session_duration_seconds",
		Help:    "Duration of transcription sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"mode"})

	connectLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_studio_connect_latency_seconds",
		Help:    "Time from session start until the backend connection is open",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Audio metrics
	audioUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_studio_audio_units_total",
		Help: "Encoded audio units handled by sessions",
	}, []string{"result"}) // result: "sent", "dropped", "failed"

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_studio_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	transcriptEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_studio_transcript_events_total",
		Help: "Transcript events received from the backend",
	}, []string{"kind"})

	// Synthesis metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_studio_synthesis_requests_total",
		Help: "Total number of speech synthesis requests",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_studio_synthesis_latency_seconds",
		Help:    "Speech synthesis latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	activePlaybacks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_studio_active_playbacks",
		Help: "Number of playable synthesized audio objects",
	})

	// Extraction metrics
	extractionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_studio_extraction_requests_total",
		Help: "Document extraction requests",
	}, []string{"type", "status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_studio_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_studio_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_studio_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// SessionMetrics tracks metrics for a single transcription session
type SessionMetrics struct {
	sessionID  string
	mode       string
	startTime  time.Time
	openedTime time.Time
	started    bool
	ended      bool
	mu         sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID, mode string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		mode:      mode,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	totalSessions.WithLabelValues(m.mode).Inc()
}

// RecordOpen records that the backend connection is open.
func (m *SessionMetrics) RecordOpen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.openedTime.IsZero() {
		return
	}
	m.openedTime = time.Now()
	activeSessions.Inc()
	connectLatency.Observe(m.openedTime.Sub(m.startTime).Seconds())
}

// RecordSessionEnd records the end of a session. Only the first call counts.
func (m *SessionMetrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true
	if !m.openedTime.IsZero() {
		activeSessions.Dec()
	}
	sessionDuration.WithLabelValues(m.mode).Observe(time.Since(m.startTime).Seconds())
}

// RecordUnitSent records an encoded unit handed to the backend
func (m *SessionMetrics) RecordUnitSent(bytes int) {
	audioUnits.WithLabelValues("sent").Inc()
	audioBytesProcessed.WithLabelValues("out").Add(float64(bytes))
}

// RecordUnitDropped records a unit dropped because the send queue was full
func (m *SessionMetrics) RecordUnitDropped() {
	audioUnits.WithLabelValues("dropped").Inc()
}

// RecordUnitFailed records a unit the backend refused
func (m *SessionMetrics) RecordUnitFailed() {
	audioUnits.WithLabelValues("failed").Inc()
}

// RecordTranscriptEvent records a transcript event by kind
func (m *SessionMetrics) RecordTranscriptEvent(kind string) {
	transcriptEvents.WithLabelValues(kind).Inc()
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	RecordError(errorType, component)
}

// RecordError records an error outside a session
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordSynthesis records one synthesis request and its latency
func RecordSynthesis(success bool, latency time.Duration) {
	synthesisLatency.Observe(latency.Seconds())

	status := "success"
	if !success {
		status = "error"
	}
	synthesisRequests.WithLabelValues(status).Inc()
}

// SetActivePlaybacks sets the number of stored playback objects
func SetActivePlaybacks(n int) {
	activePlaybacks.Set(float64(n))
}

// RecordExtraction records a document extraction attempt
func RecordExtraction(docType string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	extractionRequests.WithLabelValues(docType, status).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
