// Package storage persists raw stream records into append-only, per-day
// data files. Each record keeps its exact serialized text, one per line, so
// a file can be replayed bit-for-bit.
package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tde/go-alor-collector/internal/errs"
)

// FileStore appends record batches to {dataDir}/{symbol}_data_{yyyy-mm-dd}.json.
// Appends to the same store are serialized by a mutex so two batches never
// interleave inside a file.
type FileStore struct {
	dataDir string
	symbol  string
	logger  *slog.Logger
	now     func() time.Time

	mu sync.Mutex
}

// Option customizes a FileStore.
type Option func(*FileStore)

// WithClock overrides the time source used for day-file naming. Intended
// for tests.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore creates the store and its data directory.
func NewFileStore(dataDir, symbol string, logger *slog.Logger, opts ...Option) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileStore{
		dataDir: dataDir,
		symbol:  symbol,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errs.New(errs.KindPersistence, "create data dir", err)
	}
	return s, nil
}

// Append durably writes one batch to the current day's file in arrival
// order, one record per line.
func (s *FileStore) Append(records []string) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	path := s.dayFilePath(start)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.New(errs.KindPersistence, "open day file", err)
	}

	blob := strings.Join(records, "\n") + "\n"
	if _, err := f.WriteString(blob); err != nil {
		f.Close()
		return errs.New(errs.KindPersistence, "append day file", err)
	}
	if err := f.Close(); err != nil {
		return errs.New(errs.KindPersistence, "close day file", err)
	}

	s.logger.Info("records persisted",
		"count", len(records),
		"file", filepath.Base(path),
		"elapsed", s.now().Sub(start))
	return nil
}

// dayFilePath derives the per-symbol, per-calendar-day file name. Dates are
// UTC, so the day boundary does not depend on server timezone.
func (s *FileStore) dayFilePath(t time.Time) string {
	name := fmt.Sprintf("%s_data_%s.json", s.symbol, t.UTC().Format("2006-01-02"))
	return filepath.Join(s.dataDir, name)
}
