package tracker

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/perptrack/perptrack/internal/domain"
	trackstore "github.com/perptrack/perptrack/internal/storage/tracker"
)

// pctChangePrecision fractional digits kept when dividing for the
// day-over-day change. Division of repeating expansions cannot be exact, so
// the quotient is rounded at a precision far beyond presentation needs.
const pctChangePrecision = 35

// RecalcBalances recomputes the cumulative running balance and day-over-day
// percentage change across the whole daily series, starting from the
// baseline captured at init. Always a full recompute over every date, never
// an increment: after any partial failure or manual correction, one run
// restores a consistent series.
func (s *Service) RecalcBalances() error {
	state, ok := s.state.State()
	if !ok {
		return domain.ErrNotInitialized
	}

	baseline, err := parseAmount(state.BaselineWalletBalance)
	if err != nil {
		return errors.Wrap(err, "parse baseline balance")
	}

	days := s.state.Days()
	derived := make(map[string]trackstore.DerivedDay, len(days))

	prev := baseline
	running := baseline
	for _, date := range s.state.SortedDates() {
		net, err := parseAmount(days[date].Net)
		if err != nil {
			return errors.Wrapf(err, "parse net for %s", date)
		}

		running = running.Add(net)

		pct := decimal.Zero
		if !prev.IsZero() {
			pct = running.Sub(prev).DivRound(prev, pctChangePrecision)
		}

		derived[date] = trackstore.DerivedDay{
			Balance:   running.String(),
			PctChange: pct.String(),
		}
		prev = running
	}

	return s.state.UpdateDerived(derived, s.now().UnixMilli())
}

// parseAmount reads a stored decimal string, treating empty as zero.
func parseAmount(v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v)
}
