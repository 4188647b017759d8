package provider

import (
	"sync"
	"time"
)

// Stats accumulates request counters for one capability client
type Stats struct {
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	failuresByKind  map[Kind]uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64          `json:"total_requests"`
	SuccessRequests uint64          `json:"success_requests"`
	FailedRequests  uint64          `json:"failed_requests"`
	FailuresByKind  map[Kind]uint64 `json:"failures_by_kind"`
	SuccessRate     float64         `json:"success_rate"`
	AvgResponseTime time.Duration   `json:"avg_response_time"`
}

// NewStats creates an empty counter set
func NewStats() *Stats {
	return &Stats{failuresByKind: make(map[Kind]uint64)}
}

// Record counts one finished request. A nil err counts as success.
func (s *Stats) Record(responseTime time.Duration, err *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRequests++
	if err != nil {
		s.failedRequests++
		s.failuresByKind[err.Kind]++
		return
	}

	s.successRequests++
	// Simple moving average
	if s.avgResponseTime == 0 {
		s.avgResponseTime = responseTime
	} else {
		s.avgResponseTime = (s.avgResponseTime + responseTime) / 2
	}
}

// Snapshot returns current statistics
func (s *Stats) Snapshot() ClientStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	successRate := float64(0)
	if s.totalRequests > 0 {
		successRate = float64(s.successRequests) / float64(s.totalRequests) * 100
	}

	byKind := make(map[Kind]uint64, len(s.failuresByKind))
	for k, v := range s.failuresByKind {
		byKind[k] = v
	}

	return ClientStats{
		TotalRequests:   s.totalRequests,
		SuccessRequests: s.successRequests,
		FailedRequests:  s.failedRequests,
		FailuresByKind:  byKind,
		SuccessRate:     successRate,
		AvgResponseTime: s.avgResponseTime,
	}
}
