// Package ledger persists income events in an append-only WAL keyed by their
// deterministic event id.
package ledger

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/perptrack/perptrack/internal/domain"
)

const (
	defaultLedgerDir   = "./wal/ledger"
	ledgerSegmentLimit = 1000
	ledgerMaxSegments  = 100
	eventKeyPrefix     = "ledger_event_"
)

// Store is the durable event ledger. Events are immutable once written;
// re-inserting an existing id is a no-op, which makes every write idempotent.
// An in-memory index ordered by event time is rebuilt from the WAL on open.
type Store struct {
	wal    *gowal.Wal
	mu     sync.RWMutex
	byID   map[string]struct{}
	events []domain.LedgerEvent // ascending by TsMs
}

// NewStore opens (or creates) the ledger WAL under dir and replays it into
// the index. Duplicate WAL entries from interrupted runs collapse by id.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = defaultLedgerDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "ledger_",
		SegmentThreshold: ledgerSegmentLimit,
		MaxSegments:      ledgerMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init ledger WAL")
	}

	s := &Store{
		wal:  wal,
		byID: make(map[string]struct{}),
	}

	for msg := range wal.Iterator() {
		var event domain.LedgerEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return nil, errors.Wrap(err, "decode ledger event")
		}
		s.indexEvent(event)
	}

	return s, nil
}

// Insert appends the event unless its id is already present.
func (s *Store) Insert(event domain.LedgerEvent) error {
	if s == nil || s.wal == nil {
		return errors.New("ledger store is not initialized")
	}
	if event.EventID == "" {
		return errors.New("ledger event id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[event.EventID]; ok {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal ledger event")
	}

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, eventKeyPrefix+event.EventID, payload); err != nil {
		return errors.Wrap(err, "write ledger event")
	}

	s.indexEvent(event)
	return nil
}

// Exists reports whether an event with the given id was already ingested.
func (s *Store) Exists(eventID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byID[eventID]
	return ok
}

// ExistingIDsSince returns the ids of every event with TsMs >= fromMs.
// The ingestion engine checks candidates against this window only, not the
// whole ledger.
func (s *Store) ExistingIDsSince(fromMs int64) map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]struct{})
	for i := s.lowerBound(fromMs); i < len(s.events); i++ {
		ids[s.events[i].EventID] = struct{}{}
	}
	return ids
}

// EventsInRange returns events with fromMs <= TsMs <= toMs, ascending by time.
func (s *Store) EventsInRange(fromMs, toMs int64) []domain.LedgerEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.LedgerEvent, 0)
	for i := s.lowerBound(fromMs); i < len(s.events); i++ {
		if s.events[i].TsMs > toMs {
			break
		}
		out = append(out, s.events[i])
	}
	return out
}

// EventsByBucket returns every event classified into the given bucket,
// ascending by time.
func (s *Store) EventsByBucket(bucket domain.IncomeBucket) []domain.LedgerEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.LedgerEvent, 0)
	for _, e := range s.events {
		if e.Bucket() == bucket {
			out = append(out, e)
		}
	}
	return out
}

// All returns the full ledger ascending by time.
func (s *Store) All() []domain.LedgerEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.LedgerEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Len returns the number of ingested events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.events)
}

// Close closes the underlying WAL.
func (s *Store) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("ledger store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}

// indexEvent inserts the event at its sorted position. Caller holds the lock.
func (s *Store) indexEvent(event domain.LedgerEvent) {
	if _, ok := s.byID[event.EventID]; ok {
		return
	}

	pos := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].TsMs > event.TsMs
	})

	s.events = append(s.events, domain.LedgerEvent{})
	copy(s.events[pos+1:], s.events[pos:])
	s.events[pos] = event
	s.byID[event.EventID] = struct{}{}
}

// lowerBound returns the index of the first event with TsMs >= fromMs.
// Caller holds the lock.
func (s *Store) lowerBound(fromMs int64) int {
	return sort.Search(len(s.events), func(i int) bool {
		return s.events[i].TsMs >= fromMs
	})
}
