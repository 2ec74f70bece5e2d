package shelf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farzadghanei/navdoon/internal/metric"
)

func findRecord(t *testing.T, records []FlushRecord, name string) FlushRecord {
	t.Helper()
	for _, r := range records {
		if r.Name == name {
			return r
		}
	}
	require.Failf(t, "record not found", "name=%s", name)
	return FlushRecord{}
}

func TestCounterSumLaw(t *testing.T) {
	s := New(10 * time.Second)
	s.Add(metric.Metric{Name: "hits", Kind: metric.Counter, Value: 3, SampleRate: 1})
	s.Add(metric.Metric{Name: "hits", Kind: metric.Counter, Value: 2, SampleRate: 0.5})

	now := time.Unix(1000, 0)
	records := s.SnapshotAndClear(now)

	hits := findRecord(t, records, "hits")
	assert.Equal(t, 7.0, hits.Value)

	rate := findRecord(t, records, "hits.rate")
	assert.InDelta(t, 0.7, rate.Value, 1e-9)
}

func TestGaugeLastWriteWinsWithDelta(t *testing.T) {
	s := New(10 * time.Second)
	s.Add(metric.Metric{Name: "temp", Kind: metric.Gauge, Value: 50})
	s.Add(metric.Metric{Name: "temp", Kind: metric.GaugeDelta, Value: 5})
	s.Add(metric.Metric{Name: "temp", Kind: metric.GaugeDelta, Value: -2})

	records := s.SnapshotAndClear(time.Now())
	temp := findRecord(t, records, "temp")
	assert.Equal(t, 53.0, temp.Value)
}

func TestGaugeDeltaWithoutPriorAbsoluteCreatesGauge(t *testing.T) {
	s := New(10 * time.Second)
	s.Add(metric.Metric{Name: "temp", Kind: metric.GaugeDelta, Value: 5})

	records := s.SnapshotAndClear(time.Now())
	temp := findRecord(t, records, "temp")
	assert.Equal(t, 5.0, temp.Value)
}

func TestSetCardinality(t *testing.T) {
	s := New(10 * time.Second)
	s.Add(metric.Metric{Name: "users", Kind: metric.Set, Member: "alice"})
	s.Add(metric.Metric{Name: "users", Kind: metric.Set, Member: "bob"})
	s.Add(metric.Metric{Name: "users", Kind: metric.Set, Member: "alice"})

	records := s.SnapshotAndClear(time.Now())
	users := findRecord(t, records, "users")
	assert.Equal(t, 2.0, users.Value)
}

func TestTimerAggregates(t *testing.T) {
	s := New(10 * time.Second)
	s.Add(metric.Metric{Name: "t", Kind: metric.Timer, Value: 10, SampleRate: 1})
	s.Add(metric.Metric{Name: "t", Kind: metric.Timer, Value: 30, SampleRate: 1})
	s.Add(metric.Metric{Name: "t", Kind: metric.Timer, Value: 20, SampleRate: 1})

	records := s.SnapshotAndClear(time.Now())
	assert.Equal(t, 3.0, findRecord(t, records, "t.count").Value)
	assert.Equal(t, 10.0, findRecord(t, records, "t.lower").Value)
	assert.Equal(t, 30.0, findRecord(t, records, "t.upper").Value)
	assert.Equal(t, 20.0, findRecord(t, records, "t.mean").Value)
	assert.Equal(t, 60.0, findRecord(t, records, "t.sum").Value)
}

func TestTimerSampleRateWeightsOccurrences(t *testing.T) {
	s := New(10 * time.Second)
	s.Add(metric.Metric{Name: "t", Kind: metric.Timer, Value: 10, SampleRate: 0.5})

	records := s.SnapshotAndClear(time.Now())
	// 1/0.5 = 2 occurrences recorded for a single sampled event.
	assert.Equal(t, 2.0, findRecord(t, records, "t.count").Value)
}

func TestEmptyTimerEmitsNothing(t *testing.T) {
	s := New(10 * time.Second)
	s.timers["t"] = []float64{}
	records := s.SnapshotAndClear(time.Now())
	assert.Empty(t, records)
}

func TestSnapshotAndClearResetsShelf(t *testing.T) {
	s := New(10 * time.Second)
	s.Add(metric.Metric{Name: "hits", Kind: metric.Counter, Value: 1, SampleRate: 1})
	s.SnapshotAndClear(time.Now())

	records := s.SnapshotAndClear(time.Now())
	assert.Empty(t, records)
}

func TestClearResetsAllContainers(t *testing.T) {
	s := New(10 * time.Second)
	s.Add(metric.Metric{Name: "hits", Kind: metric.Counter, Value: 1, SampleRate: 1})
	s.Add(metric.Metric{Name: "temp", Kind: metric.Gauge, Value: 1})
	s.Add(metric.Metric{Name: "users", Kind: metric.Set, Member: "a"})
	s.Add(metric.Metric{Name: "t", Kind: metric.Timer, Value: 1, SampleRate: 1})

	s.Clear()

	records := s.SnapshotAndClear(time.Now())
	assert.Empty(t, records)
}

func TestSnapshotOrderingIsStable(t *testing.T) {
	s := New(10 * time.Second)
	s.Add(metric.Metric{Name: "b", Kind: metric.Counter, Value: 1, SampleRate: 1})
	s.Add(metric.Metric{Name: "a", Kind: metric.Counter, Value: 1, SampleRate: 1})

	first := s.SnapshotAndClear(time.Now())

	s.Add(metric.Metric{Name: "b", Kind: metric.Counter, Value: 1, SampleRate: 1})
	s.Add(metric.Metric{Name: "a", Kind: metric.Counter, Value: 1, SampleRate: 1})
	second := s.SnapshotAndClear(time.Now())

	require.Len(t, first, 4)
	require.Len(t, second, 4)
	assert.Equal(t, first[0].Name, second[0].Name)
	assert.Equal(t, "a", first[0].Name)
}
