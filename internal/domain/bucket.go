// Package domain defines core data structures used throughout the tracker.
package domain

import "strings"

// IncomeBucket category an income event is aggregated under.
type IncomeBucket string

const (
	BucketRealisedPnl IncomeBucket = "realisedPnl"
	BucketFunding     IncomeBucket = "funding"
	BucketCommission  IncomeBucket = "commission"
	BucketTransfer    IncomeBucket = "transfer"
	BucketOther       IncomeBucket = "other"
)

// Classify maps a raw exchange income type onto a bucket. The lookup is
// case-insensitive and total: anything unknown lands in BucketOther. Every
// consumer (ingestion, recalculation, presentation) must go through this
// function so classification stays identical everywhere.
func Classify(incomeType string) IncomeBucket {
	switch strings.ToUpper(incomeType) {
	case "REALIZED_PNL":
		return BucketRealisedPnl
	case "FUNDING_FEE":
		return BucketFunding
	case "COMMISSION":
		return BucketCommission
	case "TRANSFER":
		return BucketTransfer
	default:
		return BucketOther
	}
}
