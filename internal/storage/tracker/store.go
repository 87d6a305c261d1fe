// Package tracker persists the ingestion state and the per-date daily
// aggregates as a single JSON document written atomically via temp file.
// Keeping both in one document makes the daily-delta apply and the cursor
// advance a single transaction: either the rename happens or it does not.
package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/perptrack/perptrack/internal/domain"
)

const stateFileName = "tracker.json"

// Document is the persisted layout: the singleton tracking state plus the
// daily aggregates keyed by ISO date.
type Document struct {
	State *domain.TrackState             `json:"state,omitempty"`
	Days  map[string]domain.DailyMetrics `json:"days"`
}

// DerivedDay carries the recalculated balance fields for one date.
type DerivedDay struct {
	Balance   string
	PctChange string
}

// Store is the durable tracker-state document.
type Store struct {
	path string
	mu   sync.Mutex
	doc  Document
}

// NewStore loads the tracker document from dir, creating the dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create tracker state dir")
	}

	s := &Store{
		path: filepath.Join(dir, stateFileName),
		doc:  Document{Days: make(map[string]domain.DailyMetrics)},
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, errors.Wrap(err, "read tracker state")
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &s.doc); err != nil {
			return nil, errors.Wrap(err, "decode tracker state")
		}
		if s.doc.Days == nil {
			s.doc.Days = make(map[string]domain.DailyMetrics)
		}
	}

	return s, nil
}

// State returns a copy of the tracking state, if initialized.
func (s *Store) State() (domain.TrackState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc.State == nil {
		return domain.TrackState{}, false
	}
	return *s.doc.State, true
}

// Init writes the initial tracking state. Fails if one already exists.
func (s *Store) Init(state domain.TrackState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc.State != nil {
		return errors.New("tracker state already initialized")
	}

	s.doc.State = &state
	return s.save()
}

// ApplyIngest is the ingestion transaction: add the run's per-date deltas to
// whatever is currently stored, advance the cursor and record the run
// summary, then persist everything in one atomic write. The cursor never
// moves backwards.
func (s *Store) ApplyIngest(deltas map[string]domain.DayDelta, cursorMs int64, summary *domain.RunSummary, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc.State == nil {
		return domain.ErrNotInitialized
	}

	for date, delta := range deltas {
		current, ok := s.doc.Days[date]
		if !ok {
			current = domain.ZeroDailyMetrics(date, nowMs)
		}

		next, err := addDelta(current, delta, nowMs)
		if err != nil {
			return errors.Wrapf(err, "apply delta for %s", date)
		}
		s.doc.Days[date] = next
	}

	if cursorMs > s.doc.State.CursorMs {
		s.doc.State.CursorMs = cursorMs
	}
	s.doc.State.LastUpdatedAt = nowMs
	if summary != nil {
		s.doc.State.LastRunSummary = summary
	}

	return s.save()
}

// UpdateDerived rewrites balance and pctChange on every listed date.
func (s *Store) UpdateDerived(derived map[string]DerivedDay, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for date, d := range derived {
		day, ok := s.doc.Days[date]
		if !ok {
			continue
		}
		day.Balance = d.Balance
		day.PctChange = d.PctChange
		day.UpdatedAt = nowMs
		s.doc.Days[date] = day
	}

	return s.save()
}

// Day returns the aggregate for one date.
func (s *Store) Day(date string) (domain.DailyMetrics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day, ok := s.doc.Days[date]
	return day, ok
}

// Days returns a copy of all daily aggregates.
func (s *Store) Days() map[string]domain.DailyMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]domain.DailyMetrics, len(s.doc.Days))
	for k, v := range s.doc.Days {
		out[k] = v
	}
	return out
}

// SortedDates returns every tracked date ascending. ISO dates sort
// chronologically as strings.
func (s *Store) SortedDates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	dates := make([]string, 0, len(s.doc.Days))
	for d := range s.doc.Days {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// save writes the document atomically. Caller holds the lock.
func (s *Store) save() error {
	payload, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode tracker state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write tracker state temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist tracker state")
	}

	return nil
}

// addDelta folds a run delta into a stored day with exact decimal sums.
func addDelta(day domain.DailyMetrics, delta domain.DayDelta, nowMs int64) (domain.DailyMetrics, error) {
	fields := []struct {
		current *string
		add     decimal.Decimal
	}{
		{&day.Net, delta.Net},
		{&day.RealisedPnl, delta.RealisedPnl},
		{&day.Funding, delta.Funding},
		{&day.Commission, delta.Commission},
		{&day.Transfer, delta.Transfer},
		{&day.Other, delta.Other},
	}

	for _, f := range fields {
		cur, err := decimal.NewFromString(*f.current)
		if err != nil {
			return domain.DailyMetrics{}, errors.Wrapf(err, "parse stored amount %q", *f.current)
		}
		*f.current = cur.Add(f.add).String()
	}

	day.Count += delta.Count
	day.UpdatedAt = nowMs
	return day, nil
}
