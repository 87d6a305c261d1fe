package domain

import "github.com/shopspring/decimal"

// DailyMetrics additive per-UTC-date rollup of income bucket sums.
// Amounts are decimal strings; Balance and PctChange are derived by the
// recalculator and fully rewritten, never incremented.
type DailyMetrics struct {
	Date        string `json:"date"`
	Net         string `json:"net"`
	RealisedPnl string `json:"realised_pnl"`
	Funding     string `json:"funding"`
	Commission  string `json:"commission"`
	Transfer    string `json:"transfer"`
	Other       string `json:"other"`
	Count       int    `json:"count"`
	Balance     string `json:"balance,omitempty"`
	PctChange   string `json:"pct_change,omitempty"`
	UpdatedAt   int64  `json:"updated_at"`
}

// ZeroDailyMetrics returns an all-zero rollup for the given date.
func ZeroDailyMetrics(date string, nowMs int64) DailyMetrics {
	return DailyMetrics{
		Date:        date,
		Net:         "0",
		RealisedPnl: "0",
		Funding:     "0",
		Commission:  "0",
		Transfer:    "0",
		Other:       "0",
		Count:       0,
		UpdatedAt:   nowMs,
	}
}

// DayDelta in-flight decimal accumulator for one date of an ingestion run.
// Net excludes transfers: capital movements are not performance.
type DayDelta struct {
	Net         decimal.Decimal
	RealisedPnl decimal.Decimal
	Funding     decimal.Decimal
	Commission  decimal.Decimal
	Transfer    decimal.Decimal
	Other       decimal.Decimal
	Count       int
}

// Add folds one event amount into the delta under its bucket.
func (d *DayDelta) Add(bucket IncomeBucket, amount decimal.Decimal) {
	switch bucket {
	case BucketRealisedPnl:
		d.RealisedPnl = d.RealisedPnl.Add(amount)
	case BucketFunding:
		d.Funding = d.Funding.Add(amount)
	case BucketCommission:
		d.Commission = d.Commission.Add(amount)
	case BucketTransfer:
		d.Transfer = d.Transfer.Add(amount)
	default:
		d.Other = d.Other.Add(amount)
	}

	if bucket != BucketTransfer {
		d.Net = d.Net.Add(amount)
	}
	d.Count++
}
