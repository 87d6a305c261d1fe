// Package live persists the dashboard's live-metrics singleton.
package live

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/perptrack/perptrack/internal/domain"
)

const liveFileName = "live.json"

// Store holds the single LiveMetrics snapshot, written atomically via temp
// file so readers never observe a partial document.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates the live-metrics store under dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create live metrics dir")
	}
	return &Store{path: filepath.Join(dir, liveFileName)}, nil
}

// Load reads the current snapshot. ok is false when none was written yet.
func (s *Store) Load() (domain.LiveMetrics, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

// Replace fully overwrites the snapshot. No partial merge: the stored value
// always reflects one complete projection over the ledger.
func (s *Store) Replace(metrics domain.LiveMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(metrics)
}

// MergeWinLoss rewrites only the backfillable fields of the snapshot,
// keeping the rest of the stored projection intact.
func (s *Store) MergeWinLoss(initialBalance string, wins, losses int, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metrics, _, err := s.load()
	if err != nil {
		return err
	}

	metrics.InitialBalance = initialBalance
	metrics.WinCount = wins
	metrics.LossCount = losses
	metrics.LastUpdatedAt = nowMs

	return s.save(metrics)
}

func (s *Store) load() (domain.LiveMetrics, bool, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.LiveMetrics{}, false, nil
		}
		return domain.LiveMetrics{}, false, errors.Wrap(err, "read live metrics")
	}

	var metrics domain.LiveMetrics
	if err := json.Unmarshal(payload, &metrics); err != nil {
		return domain.LiveMetrics{}, false, errors.Wrap(err, "decode live metrics")
	}

	return metrics, true, nil
}

func (s *Store) save(metrics domain.LiveMetrics) error {
	payload, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode live metrics")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write live metrics temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist live metrics")
	}

	return nil
}
