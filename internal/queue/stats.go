package queue

import (
	"time"
)

// Stats is a snapshot of the counters accumulated over this run.
type Stats struct {
	TotalBatches   uint64
	TotalPositions uint64
	TotalNodes     uint64
	NPS            uint32
}

// StatsRecorder accumulates batch counters and keeps an exponentially
// weighted estimate of this worker's nodes-per-second throughput. Callers
// hold the queue lock.
type StatsRecorder struct {
	totalBatches   uint64
	totalPositions uint64
	totalNodes     uint64
	nps            uint32
}

func newStatsRecorder() *StatsRecorder {
	return &StatsRecorder{
		// Start low: a fresh worker asks for slow work until it has proven
		// its speed.
		nps: 1_500_000,
	}
}

func (s *StatsRecorder) recordBatch(positions, nodes uint64, nps uint32) {
	s.totalBatches++
	s.totalPositions += positions
	s.totalNodes += nodes

	const alpha = 0.8
	s.nps = max(1, uint32(float64(s.nps)*alpha+float64(nps)*(1.0-alpha)))
}

func (s *StatsRecorder) snapshot() Stats {
	return Stats{
		TotalBatches:   s.totalBatches,
		TotalPositions: s.totalPositions,
		TotalNodes:     s.totalNodes,
		NPS:            s.nps,
	}
}

// minUserBacklog estimates how much queue backlog must exist before it is
// worth this worker joining. The average batch has 60 positions analysed
// with 4,000,000 nodes each, and top-end workers finish one in about 60
// seconds. A worker that would take longer only helps once the queue has
// built up accordingly.
func (s *StatsRecorder) minUserBacklog() time.Duration {
	const bestBatchSeconds = 60

	estimatedBatchSeconds := min(6*60, 60*defaultNodes/uint64(s.nps))
	if estimatedBatchSeconds <= bestBatchSeconds {
		return 0
	}
	return time.Duration(estimatedBatchSeconds-bestBatchSeconds) * time.Second
}
