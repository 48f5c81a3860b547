package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jroyal/phasetrack/internal/report"
)

// PrometheusSink exports phase progress metrics. It owns all collectors
// for runs started/completed/active, per-phase cycle counts, and the
// live done/total gauges that back external progress dashboards.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	cyclesTotal      *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec

	visibleDone   *prometheus.GaugeVec
	visibleTotal  *prometheus.GaugeVec
	completeDone  *prometheus.GaugeVec
	completeTotal *prometheus.GaugeVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided
// registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phasetrack_runs_started_total",
			Help: "Total tracked phase activations.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phasetrack_runs_completed_total",
			Help: "Total finished runs partitioned by outcome.",
		}, []string{"outcome"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "phasetrack_runs_active",
			Help: "Current number of active tracked phases.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phasetrack_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"phase", "outcome"}),
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phasetrack_cycles_total",
			Help: "Cycle snapshots taken per phase.",
		}, []string{"phase"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phasetrack_transitions_total",
			Help: "Requested transitions partitioned by source and target phase.",
		}, []string{"from", "to"}),
		visibleDone: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "phasetrack_visible_done",
			Help: "Visible completed work units in the latest cycle.",
		}, []string{"phase"}),
		visibleTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "phasetrack_visible_total",
			Help: "Visible expected work units in the latest cycle.",
		}, []string{"phase"}),
		completeDone: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "phasetrack_complete_done",
			Help: "Completed work units including hidden progress.",
		}, []string{"phase"}),
		completeTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "phasetrack_complete_total",
			Help: "Expected work units including hidden progress.",
		}, []string{"phase"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.cyclesTotal,
		s.transitionsTotal,
		s.visibleDone,
		s.visibleTotal,
		s.completeDone,
		s.completeTotal,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register snapshot collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch. Safe for
// concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []report.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt report.Event) {
	switch evt.Kind {
	case report.KindRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID, evt.TS) {
			s.runsActive.Inc()
		}
	case report.KindCycle:
		s.cyclesTotal.WithLabelValues(evt.Phase).Inc()
		s.visibleDone.WithLabelValues(evt.Phase).Set(float64(evt.Visible.Done))
		s.visibleTotal.WithLabelValues(evt.Phase).Set(float64(evt.Visible.Total))
		s.completeDone.WithLabelValues(evt.Phase).Set(float64(evt.Complete.Done))
		s.completeTotal.WithLabelValues(evt.Phase).Set(float64(evt.Complete.Total))
	case report.KindTransition:
		s.transitionsTotal.WithLabelValues(evt.Phase, evt.NextPhase).Inc()
	case report.KindRunEnd:
		outcome := string(evt.Outcome)
		s.runsCompleted.WithLabelValues(outcome).Inc()
		if startedAt, ok := s.tracker.complete(evt.RunID); ok {
			s.runsActive.Dec()
			if dur := evt.TS.Sub(startedAt); dur > 0 {
				s.runDuration.WithLabelValues(evt.Phase, outcome).Observe(dur.Seconds())
			}
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu     sync.Mutex
	active map[uuid.UUID]time.Time
}

func newRunTracker() *runTracker {
	return &runTracker{active: make(map[uuid.UUID]time.Time)}
}

func (t *runTracker) start(id uuid.UUID, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; ok {
		return false
	}
	t.active[id] = at
	return true
}

func (t *runTracker) complete(id uuid.UUID) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	startedAt, ok := t.active[id]
	if !ok {
		return time.Time{}, false
	}
	delete(t.active, id)
	return startedAt, true
}
