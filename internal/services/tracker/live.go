package tracker

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/perptrack/perptrack/internal/domain"
)

// UpdateLiveMetrics rebuilds the dashboard snapshot from the full ledger and
// daily aggregates and overwrites the singleton wholesale, so the stored
// value always reflects one complete projection and can never drift.
func (s *Service) UpdateLiveMetrics() error {
	state, ok := s.state.State()
	if !ok {
		return domain.ErrNotInitialized
	}

	now := s.now()
	nowMs := now.UnixMilli()
	today := domain.DateKey(nowMs)
	weekStart := domain.DateKey(now.Add(-7 * 24 * time.Hour).UnixMilli())

	days := s.state.Days()

	netSinceT0 := decimal.Zero
	var week domain.DayDelta
	for date, day := range days {
		net, err := parseAmount(day.Net)
		if err != nil {
			return errors.Wrapf(err, "parse net for %s", date)
		}
		netSinceT0 = netSinceT0.Add(net)

		if date < weekStart {
			continue
		}
		if err := addDayToDelta(&week, day); err != nil {
			return errors.Wrapf(err, "sum 7d window for %s", date)
		}
	}

	dayToday, ok := days[today]
	if !ok {
		dayToday = domain.ZeroDailyMetrics(today, nowMs)
	}

	wins, losses, err := s.winLossCounts()
	if err != nil {
		return err
	}

	metrics := domain.LiveMetrics{
		TrackingSinceMs:  state.T0Ms,
		LastUpdatedAt:    nowMs,
		NetSinceT0:       netSinceT0.String(),
		NetToday:         dayToday.Net,
		Net7d:            week.Net.String(),
		RealisedPnlToday: dayToday.RealisedPnl,
		FundingToday:     dayToday.Funding,
		CommissionToday:  dayToday.Commission,
		TransferToday:    dayToday.Transfer,
		RealisedPnl7d:    week.RealisedPnl.String(),
		Funding7d:        week.Funding.String(),
		Commission7d:     week.Commission.String(),
		Transfer7d:       week.Transfer.String(),
		InitialBalance:   state.BaselineWalletBalance,
		WinCount:         wins,
		LossCount:        losses,
	}

	return s.live.Replace(metrics)
}

// BackfillWinLoss recomputes the initial balance and win/loss counters from
// the full ledger and merges them into the live snapshot. Maintenance
// operation, useful after manual data repair.
func (s *Service) BackfillWinLoss() (wins, losses int, err error) {
	state, ok := s.state.State()
	if !ok {
		return 0, 0, domain.ErrNotInitialized
	}

	wins, losses, err = s.winLossCounts()
	if err != nil {
		return 0, 0, err
	}

	nowMs := s.now().UnixMilli()
	if err := s.live.MergeWinLoss(state.BaselineWalletBalance, wins, losses, nowMs); err != nil {
		return 0, 0, errors.Wrap(err, "merge win/loss into live metrics")
	}

	s.logger.Info("backfill: win/loss recomputed",
		zap.Int("wins", wins),
		zap.Int("losses", losses))

	return wins, losses, nil
}

// winLossCounts groups realised-PnL events by (symbol, event time) and
// counts groups with a strictly positive decimal sum as wins, everything
// else as losses. The composite key approximates one closed-position
// settlement: split fills of the same close share an exact timestamp. Two
// genuinely distinct closes in the same millisecond on one symbol would
// merge; the ledger carries no position ids to do better.
func (s *Service) winLossCounts() (int, int, error) {
	groups := make(map[string]decimal.Decimal)
	for _, e := range s.ledger.EventsByBucket(domain.BucketRealisedPnl) {
		amount, err := parseAmount(e.Amount)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "parse pnl amount for %s", e.EventID)
		}
		key := fmt.Sprintf("%s_%d", e.Symbol, e.TsMs)
		groups[key] = groups[key].Add(amount)
	}

	wins, losses := 0, 0
	for _, sum := range groups {
		if sum.IsPositive() {
			wins++
		} else {
			losses++
		}
	}
	return wins, losses, nil
}

// addDayToDelta folds a stored day back into a decimal accumulator.
func addDayToDelta(delta *domain.DayDelta, day domain.DailyMetrics) error {
	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&delta.Net, day.Net},
		{&delta.RealisedPnl, day.RealisedPnl},
		{&delta.Funding, day.Funding},
		{&delta.Commission, day.Commission},
		{&delta.Transfer, day.Transfer},
	}

	for _, f := range fields {
		v, err := parseAmount(f.src)
		if err != nil {
			return err
		}
		*f.dst = f.dst.Add(v)
	}
	return nil
}
