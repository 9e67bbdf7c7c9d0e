package metricshistory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEvictsOldestAtCapacity(t *testing.T) {
	s := New(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		s.Record("default", "web-0", Sample{Timestamp: base.Add(time.Duration(i) * time.Minute), CPUMillis: float64(i)})
	}
	history := s.History("default", "web-0")
	require.Len(t, history, 3)
	assert.Equal(t, 2.0, history[0].CPUMillis)
	assert.Equal(t, 4.0, history[len(history)-1].CPUMillis)
}

func TestTrendSlopeOverThirtyPercent(t *testing.T) {
	history := []Sample{{CPUMillis: 100}, {CPUMillis: 140}}
	slope, ok := TrendSlope(history)
	require.True(t, ok)
	assert.Greater(t, slope, 0.3)
}

func TestTrendSlopeInsufficientData(t *testing.T) {
	_, ok := TrendSlope([]Sample{{CPUMillis: 10}})
	assert.False(t, ok)
}

func TestRestartsIncreasing(t *testing.T) {
	history := []Sample{{RestartCount: 1}, {RestartCount: 2}, {RestartCount: 3}}
	assert.True(t, RestartsIncreasing(history))

	flat := []Sample{{RestartCount: 2}, {RestartCount: 2}, {RestartCount: 2}}
	assert.False(t, RestartsIncreasing(flat))
}

func TestHistoryIsolatedPerKey(t *testing.T) {
	s := New(5)
	s.Record("ns-a", "pod", Sample{CPUMillis: 1})
	s.Record("ns-b", "pod", Sample{CPUMillis: 2})
	assert.Len(t, s.History("ns-a", "pod"), 1)
	assert.Len(t, s.History("ns-b", "pod"), 1)
	assert.Equal(t, 1.0, s.History("ns-a", "pod")[0].CPUMillis)
}
