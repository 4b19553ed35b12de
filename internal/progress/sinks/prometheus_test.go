package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshkereda/CollectOfDevices/internal/progress"
)

func testEvent(stage progress.Stage) progress.Event {
	return progress.Event{
		RunID:        progress.UUIDToBytes(uuid.New()),
		TS:           time.Now().UTC(),
		Stage:        stage,
		Target:       "12345-06",
		PartitionKey: "ALL",
		Page:         1,
		Dur:          2 * time.Second,
	}
}

func TestPrometheusSinkCounts(t *testing.T) {
	registry := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(registry)
	require.NoError(t, err)

	batch := []progress.Event{
		testEvent(progress.StageRunStart),
		testEvent(progress.StagePageDone),
		testEvent(progress.StagePageExhausted),
		testEvent(progress.StageRecord),
		testEvent(progress.StageRecord),
		testEvent(progress.StageSessionRestart),
		testEvent(progress.StageRunDone),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	assert.Equal(t, float64(1), testutil.ToFloat64(sink.runsStarted))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(sink.pagesVisited.WithLabelValues("success")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(sink.pagesVisited.WithLabelValues("exhausted")))
	assert.Equal(t, float64(2),
		testutil.ToFloat64(sink.recordsTotal.WithLabelValues("12345-06")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.sessionRestarts))
}

func TestPrometheusSinkDoubleRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewPrometheusSink(registry)
	require.NoError(t, err)

	_, err = NewPrometheusSink(registry)
	assert.Error(t, err)
}
