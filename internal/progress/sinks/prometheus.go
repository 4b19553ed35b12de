package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshkereda/CollectOfDevices/internal/progress"
)

// PrometheusSink exports crawl progress metrics. It owns all collectors for
// runs, pages, records, and session restarts.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runRuntime    *prometheus.HistogramVec

	pagesVisited    *prometheus.CounterVec
	pageDuration    *prometheus.HistogramVec
	recordsTotal    *prometheus.CounterVec
	sessionRestarts prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collect_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collect_runs_completed_total",
			Help: "Total crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collect_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{5, 15, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"result"}),
		pagesVisited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collect_pages_visited_total",
			Help: "Page attempts finished, partitioned by result.",
		}, []string{"result"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collect_page_duration_seconds",
			Help:    "Wall time per finished page attempt.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collect_records_total",
			Help: "Records appended to the record store per target.",
		}, []string{"target"}),
		sessionRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collect_session_restarts_total",
			Help: "Browser session restarts triggered by transport failures.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runRuntime,
		s.pagesVisited,
		s.pageDuration,
		s.recordsTotal,
		s.sessionRestarts,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch. It is safe for
// concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		s.completeRun(evt, "success")
	case progress.StageRunError:
		s.completeRun(evt, "error")
	case progress.StagePageDone:
		s.completePage(evt, "success")
	case progress.StagePageExhausted:
		s.completePage(evt, "exhausted")
	case progress.StageRecord:
		s.recordsTotal.WithLabelValues(evt.Target).Inc()
	case progress.StageSessionRestart:
		s.sessionRestarts.Inc()
	}
}

func (s *PrometheusSink) completeRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) completePage(evt progress.Event, result string) {
	s.pagesVisited.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.pageDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
