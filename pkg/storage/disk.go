package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vibe-report/pkg/models"

	"github.com/dgraph-io/badger/v3"
)

const reportPrefix = "report:"

type DiskStore interface {
	Store
	Close() error
}

type diskStore struct {
	db  *badger.DB
	ttl time.Duration
}

// NewDiskStore opens a Badger store under path. An empty path keeps the
// database in memory so nothing outlives the process.
func NewDiskStore(path string, ttl time.Duration) (DiskStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		opts = badger.DefaultOptions(filepath.Join(path, "badger"))
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &diskStore{db: db, ttl: ttl}, nil
}

func reportKey(sessionID string) []byte {
	return []byte(reportPrefix + sessionID)
}

func (s *diskStore) StoreReport(report *models.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(reportKey(report.SessionID), data)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (s *diskStore) GetReport(sessionID string) (*models.Report, error) {
	var report models.Report

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(reportKey(sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &report)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return &report, nil
}

func (s *diskStore) DeleteReport(sessionID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(reportKey(sessionID)); err != nil {
			return err
		}
		return txn.Delete(reportKey(sessionID))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrReportNotFound
	}
	return err
}

func (s *diskStore) Close() error {
	return s.db.Close()
}

// Tiered reads through the memory store and falls back to disk, refilling
// memory on a hit. Writes and deletes go to both.
type Tiered struct {
	Memory MemoryStore
	Disk   DiskStore
}

func (t *Tiered) StoreReport(report *models.Report) error {
	if err := t.Memory.StoreReport(report); err != nil {
		return fmt.Errorf("failed to store in memory: %w", err)
	}
	if err := t.Disk.StoreReport(report); err != nil {
		return fmt.Errorf("failed to store on disk: %w", err)
	}
	return nil
}

func (t *Tiered) GetReport(sessionID string) (*models.Report, error) {
	report, err := t.Memory.GetReport(sessionID)
	if err == nil {
		return report, nil
	}
	if !errors.Is(err, ErrReportNotFound) {
		return nil, err
	}

	report, err = t.Disk.GetReport(sessionID)
	if err != nil {
		return nil, err
	}
	_ = t.Memory.StoreReport(report)
	return report, nil
}

// ListReports lists what the memory tier holds. Every write passes through
// it, so within the expiry window that is every report.
func (t *Tiered) ListReports() []*models.Report {
	return t.Memory.ListReports()
}

func (t *Tiered) DeleteReport(sessionID string) error {
	memErr := t.Memory.DeleteReport(sessionID)
	diskErr := t.Disk.DeleteReport(sessionID)
	if errors.Is(memErr, ErrReportNotFound) && errors.Is(diskErr, ErrReportNotFound) {
		return ErrReportNotFound
	}
	if diskErr != nil && !errors.Is(diskErr, ErrReportNotFound) {
		return diskErr
	}
	return nil
}
