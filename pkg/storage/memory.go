package storage

import (
	"errors"
	"sort"
	"sync"
	"time"

	"vibe-report/pkg/models"

	"github.com/jonboulle/clockwork"
)

var ErrReportNotFound = errors.New("report not found")

// Store keeps the latest report of each session.
type Store interface {
	StoreReport(report *models.Report) error
	GetReport(sessionID string) (*models.Report, error)
	DeleteReport(sessionID string) error
}

type MemoryStore interface {
	Store
	ListReports() []*models.Report
}

type memoryStore struct {
	reports map[string]*models.Report
	ttl     time.Duration
	clock   clockwork.Clock
	mu      sync.RWMutex
}

type MemoryOption func(*memoryStore)

// WithExpiry hides reports once they are older than ttl, counted from
// their CreatedAt so a copy refilled from disk keeps its original age.
func WithExpiry(ttl time.Duration) MemoryOption {
	return func(s *memoryStore) { s.ttl = ttl }
}

func WithClock(clock clockwork.Clock) MemoryOption {
	return func(s *memoryStore) { s.clock = clock }
}

func NewMemoryStore(opts ...MemoryOption) MemoryStore {
	s := &memoryStore{
		reports: make(map[string]*models.Report),
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *memoryStore) expired(report *models.Report) bool {
	return s.ttl > 0 && s.clock.Since(report.CreatedAt) >= s.ttl
}

// StoreReport also drops expired entries, which bounds the map by what
// was written within one ttl.
func (s *memoryStore) StoreReport(report *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.reports {
		if s.expired(r) {
			delete(s.reports, id)
		}
	}
	if s.expired(report) {
		return nil
	}
	s.reports[report.SessionID] = report
	return nil
}

func (s *memoryStore) GetReport(sessionID string) (*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, exists := s.reports[sessionID]
	if !exists || s.expired(report) {
		return nil, ErrReportNotFound
	}
	return report, nil
}

func (s *memoryStore) DeleteReport(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reports[sessionID]; !exists {
		return ErrReportNotFound
	}
	delete(s.reports, sessionID)
	return nil
}

// ListReports returns every live report, oldest first.
func (s *memoryStore) ListReports() []*models.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := make([]*models.Report, 0, len(s.reports))
	for _, r := range s.reports {
		if !s.expired(r) {
			reports = append(reports, r)
		}
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].CreatedAt.Before(reports[j].CreatedAt)
	})
	return reports
}
