// Package metrics tracks pipeline counters for the worker stats endpoint and
// mirrors them to OpenTelemetry instruments.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/thebtf/devark"

// Metrics tracks processing statistics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	startTime         time.Time
	lastScoreAt       atomic.Int64
	hookFiles         metric.Int64Counter
	analysisCompleted metric.Int64Counter
	analysisFailed    metric.Int64Counter
	coachingGenerated metric.Int64Counter
	coachingSkipped   metric.Int64Counter
	syncUploaded      metric.Int64Counter
	analysisLatency   metric.Float64Histogram
	recentLatencies   []time.Duration
	latenciesMu       sync.Mutex
	promptFiles       atomic.Int64
	responseFiles     atomic.Int64
	droppedFiles      atomic.Int64
	analyses          atomic.Int64
	analysisFailures  atomic.Int64
	coachings         atomic.Int64
	coachingSkips     atomic.Int64
	uploaded          atomic.Int64
	lastScore         atomic.Uint64 // score * 10
}

// New creates a tracker bound to the global OpenTelemetry meter provider.
func New() *Metrics {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter creates a tracker bound to meter.
func NewWithMeter(meter metric.Meter) *Metrics {
	m := &Metrics{
		startTime:       time.Now(),
		recentLatencies: make([]time.Duration, 0, 256),
	}
	// Instrument creation only fails on invalid names; the no-op fallbacks keep recording safe.
	m.hookFiles, _ = meter.Int64Counter("devark.hookfile.processed", metric.WithDescription("Hook drop files consumed"))
	m.analysisCompleted, _ = meter.Int64Counter("devark.analysis.completed")
	m.analysisFailed, _ = meter.Int64Counter("devark.analysis.failed")
	m.coachingGenerated, _ = meter.Int64Counter("devark.coaching.generated")
	m.coachingSkipped, _ = meter.Int64Counter("devark.coaching.skipped")
	m.syncUploaded, _ = meter.Int64Counter("devark.sync.uploaded", metric.WithUnit("{session}"))
	m.analysisLatency, _ = meter.Float64Histogram("devark.analysis.duration", metric.WithUnit("ms"))
	return m
}

// Hook file kinds.
const (
	KindPrompt   = "prompt"
	KindResponse = "response"
	KindDropped  = "dropped"
)

// RecordHookFile records one consumed drop file.
func (m *Metrics) RecordHookFile(kind string) {
	if m == nil {
		return
	}
	switch kind {
	case KindPrompt:
		m.promptFiles.Add(1)
	case KindResponse:
		m.responseFiles.Add(1)
	default:
		m.droppedFiles.Add(1)
	}
	if m.hookFiles != nil {
		m.hookFiles.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// RecordAnalysis records a finished prompt analysis.
func (m *Metrics) RecordAnalysis(score float64, latency time.Duration) {
	if m == nil {
		return
	}
	m.analyses.Add(1)
	m.lastScore.Store(uint64(score * 10))
	m.lastScoreAt.Store(time.Now().UnixMilli())

	m.latenciesMu.Lock()
	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > 256 {
		m.recentLatencies = m.recentLatencies[len(m.recentLatencies)-256:]
	}
	m.latenciesMu.Unlock()

	if m.analysisCompleted != nil {
		m.analysisCompleted.Add(context.Background(), 1)
	}
	if m.analysisLatency != nil {
		m.analysisLatency.Record(context.Background(), float64(latency.Milliseconds()))
	}
}

// RecordAnalysisFailure records a failed analysis.
func (m *Metrics) RecordAnalysisFailure() {
	if m == nil {
		return
	}
	m.analysisFailures.Add(1)
	if m.analysisFailed != nil {
		m.analysisFailed.Add(context.Background(), 1)
	}
}

// RecordCoaching records a coaching attempt; reason is empty when coaching was generated.
func (m *Metrics) RecordCoaching(generated bool, reason string) {
	if m == nil {
		return
	}
	if generated {
		m.coachings.Add(1)
		if m.coachingGenerated != nil {
			m.coachingGenerated.Add(context.Background(), 1)
		}
		return
	}
	m.coachingSkips.Add(1)
	if m.coachingSkipped != nil {
		m.coachingSkipped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// RecordSyncUploaded records sessions accepted by the backend.
func (m *Metrics) RecordSyncUploaded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.uploaded.Add(int64(n))
	if m.syncUploaded != nil {
		m.syncUploaded.Add(context.Background(), int64(n))
	}
}

// Snapshot returns current metrics.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	s := Snapshot{
		PromptFiles:       m.promptFiles.Load(),
		ResponseFiles:     m.responseFiles.Load(),
		DroppedFiles:      m.droppedFiles.Load(),
		Analyses:          m.analyses.Load(),
		AnalysisFailures:  m.analysisFailures.Load(),
		CoachingGenerated: m.coachings.Load(),
		CoachingSkipped:   m.coachingSkips.Load(),
		SessionsUploaded:  m.uploaded.Load(),
		Uptime:            time.Since(m.startTime).Round(time.Second).String(),
	}
	if at := m.lastScoreAt.Load(); at > 0 {
		score := float64(m.lastScore.Load()) / 10
		s.LastScore = &score
	}

	m.latenciesMu.Lock()
	sorted := make([]time.Duration, len(m.recentLatencies))
	copy(sorted, m.recentLatencies)
	m.latenciesMu.Unlock()

	if len(sorted) > 0 {
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		s.P50AnalysisMs = percentile(sorted, 0.50).Milliseconds()
		s.P95AnalysisMs = percentile(sorted, 0.95).Milliseconds()
	}
	return s
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	LastScore         *float64 `json:"lastScore,omitempty"`
	Uptime            string   `json:"uptime"`
	PromptFiles       int64    `json:"promptFiles"`
	ResponseFiles     int64    `json:"responseFiles"`
	DroppedFiles      int64    `json:"droppedFiles"`
	Analyses          int64    `json:"analyses"`
	AnalysisFailures  int64    `json:"analysisFailures"`
	CoachingGenerated int64    `json:"coachingGenerated"`
	CoachingSkipped   int64    `json:"coachingSkipped"`
	SessionsUploaded  int64    `json:"sessionsUploaded"`
	P50AnalysisMs     int64    `json:"p50AnalysisMs"`
	P95AnalysisMs     int64    `json:"p95AnalysisMs"`
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// String returns a human-readable representation of metrics.
func (s Snapshot) String() string {
	last := "n/a"
	if s.LastScore != nil {
		last = fmt.Sprintf("%.1f", *s.LastScore)
	}
	return fmt.Sprintf(`devark metrics:
  Hook files: %d prompts, %d responses, %d dropped
  Analyses: %d (%d failed), last score %s, p50 %dms, p95 %dms
  Coaching: %d generated, %d skipped
  Sync: %d sessions uploaded
  Uptime: %s`,
		s.PromptFiles, s.ResponseFiles, s.DroppedFiles,
		s.Analyses, s.AnalysisFailures, last, s.P50AnalysisMs, s.P95AnalysisMs,
		s.CoachingGenerated, s.CoachingSkipped,
		s.SessionsUploaded,
		s.Uptime,
	)
}
