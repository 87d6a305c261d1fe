// Package tracker implements the ingestion and aggregation pipeline over
// exchange income events: baseline initialization, incremental refresh,
// balance recalculation and the live dashboard projection.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/perptrack/perptrack/internal/domain"
	"github.com/perptrack/perptrack/internal/storage/ledger"
	"github.com/perptrack/perptrack/internal/storage/live"
	trackstore "github.com/perptrack/perptrack/internal/storage/tracker"
)

const (
	// safeBufferMs re-fetch margin behind the cursor, guarding against
	// events that were still settling exchange-side near the previous run.
	safeBufferMs int64 = 10 * 60 * 1000

	incomePageLimit = 1000
	maxIncomePages  = 20
)

// incomeClient is the slice of the exchange API the tracker consumes.
type incomeClient interface {
	FetchIncome(ctx context.Context, startMs, endMs int64, limit int) ([]domain.IncomeRecord, error)
	FetchWalletBalance(ctx context.Context, asset string) (string, error)
}

// Service runs the income pipeline for a single tracked account.
type Service struct {
	logger *zap.Logger
	client incomeClient
	ledger *ledger.Store
	state  *trackstore.Store
	live   *live.Store
	asset  string
	now    func() time.Time

	// refreshMu serializes the dedup-check-then-write sequence: overlapping
	// refreshes are rejected, not interleaved.
	refreshMu sync.Mutex
}

// NewService creates the tracker service.
func NewService(logger *zap.Logger, client incomeClient, ledgerStore *ledger.Store,
	stateStore *trackstore.Store, liveStore *live.Store, asset string) *Service {
	return &Service{
		logger: logger,
		client: client,
		ledger: ledgerStore,
		state:  stateStore,
		live:   liveStore,
		asset:  asset,
		now:    time.Now,
	}
}

// InitBaseline captures the tracking start: t0, an initial cursor ten
// minutes behind it, and the current wallet balance as the anchor for all
// balance math. Idempotent: an existing state is returned unchanged.
func (s *Service) InitBaseline(ctx context.Context) (domain.TrackState, bool, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if state, ok := s.state.State(); ok {
		return state, false, nil
	}

	now := s.now()
	t0Ms := now.UnixMilli()

	s.logger.Info("init: fetching wallet balance", zap.String("asset", s.asset))
	balance, err := s.client.FetchWalletBalance(ctx, s.asset)
	if err != nil {
		return domain.TrackState{}, false, errors.Wrap(err, "fetch baseline balance")
	}

	state := domain.TrackState{
		T0Ms:                  t0Ms,
		CursorMs:              t0Ms - safeBufferMs,
		BaselineWalletBalance: balance,
		LastUpdatedAt:         t0Ms,
	}

	if err := s.state.Init(state); err != nil {
		return domain.TrackState{}, false, errors.Wrap(err, "persist initial state")
	}

	if err := s.live.Replace(domain.ZeroLiveMetrics(t0Ms, t0Ms, balance)); err != nil {
		return domain.TrackState{}, false, errors.Wrap(err, "write initial live metrics")
	}

	s.logger.Info("init: baseline captured",
		zap.Int64("t0_ms", t0Ms),
		zap.String("baseline_balance", balance))

	return state, true, nil
}
