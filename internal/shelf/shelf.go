// Package shelf implements the in-memory aggregator that folds parsed
// metrics between flushes. A Shelf has a single owner (the processor)
// and performs no internal locking.
package shelf

import (
	"math"
	"sort"
	"time"

	"github.com/farzadghanei/navdoon/internal/metric"
)

// FlushRecord is one aggregated data point produced by a flush.
type FlushRecord struct {
	Name      string
	Value     float64
	Timestamp time.Time
}

// Shelf accumulates counters, gauges, sets, and timers between flushes.
type Shelf struct {
	counters map[string]float64
	gauges   map[string]float64
	sets     map[string]map[string]struct{}
	timers   map[string][]float64

	flushInterval time.Duration
}

// New creates an empty Shelf. flushInterval is used only to compute the
// ".rate" counter record; it does not drive any timing inside Shelf.
func New(flushInterval time.Duration) *Shelf {
	return &Shelf{
		counters:      make(map[string]float64),
		gauges:        make(map[string]float64),
		sets:          make(map[string]map[string]struct{}),
		timers:        make(map[string][]float64),
		flushInterval: flushInterval,
	}
}

// Add folds a single parsed metric into the shelf.
func (s *Shelf) Add(m metric.Metric) {
	switch m.Kind {
	case metric.Counter:
		rate := m.SampleRate
		if rate <= 0 {
			rate = 1
		}
		s.counters[m.Name] += m.Value / rate

	case metric.Gauge:
		s.gauges[m.Name] = m.Value

	case metric.GaugeDelta:
		s.gauges[m.Name] = s.gauges[m.Name] + m.Value

	case metric.Set:
		members, ok := s.sets[m.Name]
		if !ok {
			members = make(map[string]struct{})
			s.sets[m.Name] = members
		}
		members[m.Member] = struct{}{}

	case metric.Timer:
		rate := m.SampleRate
		if rate <= 0 {
			rate = 1
		}
		repeats := int(math.Round(1 / rate))
		if repeats < 1 {
			repeats = 1
		}
		values := s.timers[m.Name]
		for i := 0; i < repeats; i++ {
			values = append(values, m.Value)
		}
		s.timers[m.Name] = values
	}
}

// SnapshotAndClear produces the flush records for the current state and
// resets the shelf. Ordering is stable for a given shelf state: counters,
// then gauges, then sets, then timers, each sorted by metric name.
func (s *Shelf) SnapshotAndClear(now time.Time) []FlushRecord {
	records := make([]FlushRecord, 0, len(s.counters)*2+len(s.gauges)+len(s.sets)+len(s.timers)*5)

	for _, name := range sortedKeys(s.counters) {
		sum := s.counters[name]
		records = append(records, FlushRecord{Name: name, Value: sum, Timestamp: now})
		rate := 0.0
		if s.flushInterval > 0 {
			rate = sum / s.flushInterval.Seconds()
		}
		records = append(records, FlushRecord{Name: name + ".rate", Value: rate, Timestamp: now})
	}

	for _, name := range sortedKeys(s.gauges) {
		records = append(records, FlushRecord{Name: name, Value: s.gauges[name], Timestamp: now})
	}

	for _, name := range sortedSetKeys(s.sets) {
		records = append(records, FlushRecord{Name: name, Value: float64(len(s.sets[name])), Timestamp: now})
	}

	for _, name := range sortedTimerKeys(s.timers) {
		xs := s.timers[name]
		if len(xs) == 0 {
			continue
		}
		sorted := append([]float64(nil), xs...)
		sort.Float64s(sorted)

		var sum float64
		for _, v := range sorted {
			sum += v
		}
		mean := sum / float64(len(sorted))

		records = append(records,
			FlushRecord{Name: name + ".count", Value: float64(len(sorted)), Timestamp: now},
			FlushRecord{Name: name + ".lower", Value: sorted[0], Timestamp: now},
			FlushRecord{Name: name + ".upper", Value: sorted[len(sorted)-1], Timestamp: now},
			FlushRecord{Name: name + ".mean", Value: mean, Timestamp: now},
			FlushRecord{Name: name + ".sum", Value: sum, Timestamp: now},
		)
	}

	s.Clear()
	return records
}

// Clear resets every inner container to empty.
func (s *Shelf) Clear() {
	s.counters = make(map[string]float64)
	s.gauges = make(map[string]float64)
	s.sets = make(map[string]map[string]struct{})
	s.timers = make(map[string][]float64)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSetKeys(m map[string]map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedTimerKeys(m map[string][]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
