package loop

import (
	"sync"
	"time"

	"github.com/ternarybob/vloop/pkg/sdk"
)

// Metrics tracks controller statistics.
type Metrics struct {
	mu sync.Mutex

	Attempts     int
	Passed       int
	Failed       int
	Unavailable  int
	Remediations int
	StageTime    map[sdk.Stage]time.Duration
	StartTime    time.Time
	LastPass     time.Time
}

// NewMetrics creates new metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		StageTime: make(map[sdk.Stage]time.Duration),
		StartTime: time.Now(),
	}
}

// RecordOutcome counts one stage attempt.
func (m *Metrics) RecordOutcome(o sdk.StageOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Attempts++
	m.StageTime[o.Stage] += o.Duration
	switch {
	case o.Passed:
		m.Passed++
		m.LastPass = time.Now()
	case o.Unavailable:
		m.Failed++
		m.Unavailable++
	default:
		m.Failed++
	}
}

// RecordRemediation counts one remediation.
func (m *Metrics) RecordRemediation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Remediations++
}

// PassRate returns passed attempts as a percentage.
func (m *Metrics) PassRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Attempts == 0 {
		return 0
	}
	return float64(m.Passed) / float64(m.Attempts) * 100
}

// Snapshot returns a copy safe to read without the lock.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := make(map[sdk.Stage]time.Duration, len(m.StageTime))
	for k, v := range m.StageTime {
		st[k] = v
	}
	return MetricsSnapshot{
		Attempts:     m.Attempts,
		Passed:       m.Passed,
		Failed:       m.Failed,
		Unavailable:  m.Unavailable,
		Remediations: m.Remediations,
		StageTime:    st,
		Uptime:       time.Since(m.StartTime),
	}
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Attempts     int                         `json:"attempts"`
	Passed       int                         `json:"passed"`
	Failed       int                         `json:"failed"`
	Unavailable  int                         `json:"unavailable"`
	Remediations int                         `json:"remediations"`
	StageTime    map[sdk.Stage]time.Duration `json:"stage_time"`
	Uptime       time.Duration               `json:"uptime"`
}
