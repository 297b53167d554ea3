package metrics

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of recent samples kept.
const DefaultCapacity = 100

// Store aggregates samples and keeps the most recent ones in a ring.
// It is safe for concurrent use.
//
//	store := metrics.NewStore(100, time.Now())
//	store.Record(sample)
//	snap := store.Snapshot(10)
type Store struct {
	mu sync.RWMutex

	ring []Sample
	head int // next write index
	size int

	total     int64
	succeeded int64
	byOp      map[string]*opStats
	byFailure map[string]int64

	startTime time.Time
}

type opStats struct {
	count, failures int64
	total, max      time.Duration
}

// NewStore keeps capacity recent samples; values below 1 use
// DefaultCapacity. startTime anchors Uptime.
func NewStore(capacity int, startTime time.Time) *Store {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Store{
		ring:      make([]Sample, capacity),
		byOp:      make(map[string]*opStats),
		byFailure: make(map[string]int64),
		startTime: startTime,
	}
}

func (s *Store) Record(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring[s.head] = sample
	s.head = (s.head + 1) % len(s.ring)
	if s.size < len(s.ring) {
		s.size++
	}

	s.total++
	st, ok := s.byOp[sample.Operation]
	if !ok {
		st = &opStats{}
		s.byOp[sample.Operation] = st
	}
	st.count++
	st.total += sample.Duration
	st.max = max(st.max, sample.Duration)
	if sample.Succeeded {
		s.succeeded++
	} else {
		st.failures++
		s.byFailure[sample.FailureKind]++
	}
}

// Recent returns up to limit samples, newest first.
func (s *Store) Recent(limit int) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recentLocked(limit)
}

func (s *Store) recentLocked(limit int) []Sample {
	if limit <= 0 || s.size == 0 {
		return []Sample{}
	}
	limit = min(limit, s.size)
	out := make([]Sample, limit)
	for i := range out {
		out[i] = s.ring[(s.head-1-i+len(s.ring))%len(s.ring)]
	}
	return out
}

// Snapshot returns the aggregates plus up to recent samples.
func (s *Store) Snapshot(recent int) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Total:       s.total,
		Succeeded:   s.succeeded,
		Failed:      s.total - s.succeeded,
		ByOperation: make(map[string]OperationStats, len(s.byOp)),
		ByFailure:   make(map[string]int64, len(s.byFailure)),
		Uptime:      time.Since(s.startTime),
		Recent:      s.recentLocked(recent),
	}
	for op, st := range s.byOp {
		snap.ByOperation[op] = OperationStats{
			Count:       st.count,
			Failures:    st.failures,
			SuccessRate: float64(st.count-st.failures) / float64(st.count) * 100,
			AvgDuration: st.total / time.Duration(st.count),
			MaxDuration: st.max,
		}
	}
	for kind, n := range s.byFailure {
		snap.ByFailure[kind] = n
	}
	return snap
}
