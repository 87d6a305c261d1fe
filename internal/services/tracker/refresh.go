package tracker

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/perptrack/perptrack/internal/domain"
)

// RefreshResult outcome of one ingestion run.
type RefreshResult struct {
	RunID     string `json:"run_id"`
	NewEvents int    `json:"new_events"`
	CursorMs  int64  `json:"cursor_ms"`
}

// Refresh pulls income events newer than the cursor (minus a safety buffer),
// deduplicates them against the ledger, folds new events into the daily
// aggregates and advances the cursor. Safe to call repeatedly: the dedup key
// is content-derived, so a re-run never double-counts. A concurrent refresh
// is rejected with ErrRefreshInFlight.
func (s *Service) Refresh(ctx context.Context) (RefreshResult, error) {
	if !s.refreshMu.TryLock() {
		return RefreshResult{}, domain.ErrRefreshInFlight
	}
	defer s.refreshMu.Unlock()

	state, ok := s.state.State()
	if !ok {
		return RefreshResult{}, domain.ErrNotInitialized
	}

	runID := uuid.New().String()
	nowMs := s.now().UnixMilli()

	startMs := state.T0Ms - safeBufferMs
	if fromCursor := state.CursorMs - safeBufferMs; fromCursor > startMs {
		startMs = fromCursor
	}
	endMs := nowMs

	fetched, err := s.fetchIncomeWindow(ctx, startMs, endMs)
	if err != nil {
		return RefreshResult{}, err
	}

	records := make([]domain.IncomeRecord, 0, len(fetched))
	for _, r := range fetched {
		if r.Asset == s.asset {
			records = append(records, r)
		}
	}

	if len(records) == 0 {
		s.logger.Info("refresh: no events in window",
			zap.String("run_id", runID),
			zap.Int64("from_ms", startMs),
			zap.Int64("to_ms", endMs))
		return RefreshResult{RunID: runID, CursorMs: state.CursorMs}, nil
	}

	// The cursor must advance past duplicates too, or a run with zero new
	// events would re-fetch the same window forever.
	existing := s.ledger.ExistingIDsSince(startMs)
	maxTs := state.CursorMs
	var newRecords []domain.IncomeRecord
	for _, r := range records {
		if r.Time > maxTs {
			maxTs = r.Time
		}
		id := domain.NewEventID(r.Time, r.IncomeType, r.Asset, r.Income, r.TranID, r.Symbol)
		if _, dup := existing[id]; dup {
			continue
		}
		existing[id] = struct{}{}
		newRecords = append(newRecords, r)
	}

	if len(newRecords) == 0 {
		if err := s.state.ApplyIngest(nil, maxTs, nil, nowMs); err != nil {
			return RefreshResult{}, errors.Wrap(err, "advance cursor")
		}
		s.logger.Info("refresh: duplicates only, cursor advanced",
			zap.String("run_id", runID),
			zap.Int64("cursor_ms", maxTs))
		return RefreshResult{RunID: runID, CursorMs: maxTs}, nil
	}

	deltas := make(map[string]domain.DayDelta)
	for _, r := range newRecords {
		amount, err := decimal.NewFromString(r.Income)
		if err != nil {
			return RefreshResult{}, errors.Wrapf(err, "parse income amount %q", r.Income)
		}

		if err := s.ledger.Insert(domain.NewLedgerEvent(r, nowMs)); err != nil {
			return RefreshResult{}, errors.Wrap(err, "persist ledger event")
		}

		date := domain.DateKey(r.Time)
		delta := deltas[date]
		delta.Add(domain.Classify(r.IncomeType), amount)
		deltas[date] = delta
	}

	summary := &domain.RunSummary{
		RunID:         runID,
		NewEvents:     len(newRecords),
		FetchedFromMs: startMs,
		FetchedToMs:   endMs,
	}
	if err := s.state.ApplyIngest(deltas, maxTs, summary, nowMs); err != nil {
		return RefreshResult{}, errors.Wrap(err, "apply daily deltas")
	}

	// Both downstream computations are full recomputes: a failure here
	// followed by a retry re-derives everything, it never compounds.
	if err := s.RecalcBalances(); err != nil {
		return RefreshResult{}, errors.Wrap(err, "recalculate balances")
	}
	if err := s.UpdateLiveMetrics(); err != nil {
		return RefreshResult{}, errors.Wrap(err, "update live metrics")
	}

	s.logger.Info("refresh: ingested",
		zap.String("run_id", runID),
		zap.Int("new_events", len(newRecords)),
		zap.Int("touched_dates", len(deltas)),
		zap.Int64("cursor_ms", maxTs))

	return RefreshResult{RunID: runID, NewEvents: len(newRecords), CursorMs: maxTs}, nil
}

// fetchIncomeWindow pages through the income endpoint. A full page advances
// the window to just past the last returned event; a short page ends the
// scan. Hitting the page cap while pages are still full aborts the run.
func (s *Service) fetchIncomeWindow(ctx context.Context, startMs, endMs int64) ([]domain.IncomeRecord, error) {
	var all []domain.IncomeRecord

	cursor := startMs
	for page := 0; ; page++ {
		if page >= maxIncomePages {
			return nil, errors.Wrapf(domain.ErrPaginationOverrun,
				"window %d..%d still paging after %d pages", startMs, endMs, maxIncomePages)
		}

		records, err := s.client.FetchIncome(ctx, cursor, endMs, incomePageLimit)
		if err != nil {
			return nil, errors.Wrap(err, "fetch income page")
		}
		if len(records) == 0 {
			break
		}

		all = append(all, records...)

		if len(records) < incomePageLimit {
			break
		}
		cursor = records[len(records)-1].Time + 1
		if cursor > endMs {
			break
		}
	}

	return all, nil
}
