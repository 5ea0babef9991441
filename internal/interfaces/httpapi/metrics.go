package httpapi

import (
	"sync"
	"time"

	"aawallet/internal/domain"
)

// Metrics counts session activity. It satisfies application.SessionObserver.
type Metrics struct {
	mu                 sync.RWMutex
	startTime          time.Time
	submissions        map[domain.TxKind]uint64
	submissionFailures map[domain.TxKind]uint64
	lastSubmission     time.Duration
	reconciles         uint64
	lastReconcile      time.Duration
	lastRecords        int
	httpRequests       map[string]uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		startTime:          time.Now(),
		submissions:        make(map[domain.TxKind]uint64),
		submissionFailures: make(map[domain.TxKind]uint64),
		httpRequests:       make(map[string]uint64),
	}
}

func (m *Metrics) OnSubmission(kind domain.TxKind, err error, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[kind]++
	if err != nil {
		m.submissionFailures[kind]++
	}
	m.lastSubmission = duration
}

func (m *Metrics) OnReconcile(records int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciles++
	m.lastRecords = records
	m.lastReconcile = duration
}

func (m *Metrics) IncRequest(route string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.httpRequests[route]++
}

type Snapshot struct {
	StartTime          time.Time
	Submissions        map[domain.TxKind]uint64
	SubmissionFailures map[domain.TxKind]uint64
	LastSubmission     time.Duration
	Reconciles         uint64
	LastReconcile      time.Duration
	LastRecords        int
	HTTPRequests       map[string]uint64
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		StartTime:          m.startTime,
		Submissions:        copyCounts(m.submissions),
		SubmissionFailures: copyCounts(m.submissionFailures),
		LastSubmission:     m.lastSubmission,
		Reconciles:         m.reconciles,
		LastReconcile:      m.lastReconcile,
		LastRecords:        m.lastRecords,
		HTTPRequests:       copyCounts(m.httpRequests),
	}
}

func copyCounts[K comparable](source map[K]uint64) map[K]uint64 {
	clone := make(map[K]uint64, len(source))
	for key, value := range source {
		clone[key] = value
	}
	return clone
}
