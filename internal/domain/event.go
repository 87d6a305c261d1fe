package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// IncomeRecord raw income entry as returned by the exchange.
type IncomeRecord struct {
	Time       int64
	IncomeType string
	Asset      string
	Income     string
	Symbol     string
	TranID     int64
}

// LedgerEvent one immutable income record in the ledger. Never updated or
// deleted after insertion.
type LedgerEvent struct {
	EventID    string `json:"event_id"`
	TsMs       int64  `json:"ts_ms"`
	IncomeType string `json:"income_type"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	Symbol     string `json:"symbol,omitempty"`
	TranID     int64  `json:"tran_id,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

// Bucket returns the income bucket this event is aggregated under.
func (e *LedgerEvent) Bucket() IncomeBucket {
	return Classify(e.IncomeType)
}

// NewEventID derives the deterministic identity of an income record:
// sha256 over the pipe-joined identity fields. Identical raw input always
// yields the same id, which is the sole deduplication key. A zero tranId is
// encoded as the empty string to stay compatible with ids produced before
// tranId was populated by the exchange.
func NewEventID(tsMs int64, incomeType, asset, amount string, tranID int64, symbol string) string {
	tran := ""
	if tranID != 0 {
		tran = strconv.FormatInt(tranID, 10)
	}

	parts := []string{
		strconv.FormatInt(tsMs, 10),
		incomeType,
		asset,
		amount,
		tran,
		symbol,
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// NewLedgerEvent normalizes a raw income record into a ledger event.
func NewLedgerEvent(rec IncomeRecord, createdAtMs int64) LedgerEvent {
	return LedgerEvent{
		EventID:    NewEventID(rec.Time, rec.IncomeType, rec.Asset, rec.Income, rec.TranID, rec.Symbol),
		TsMs:       rec.Time,
		IncomeType: rec.IncomeType,
		Asset:      rec.Asset,
		Amount:     rec.Income,
		Symbol:     rec.Symbol,
		TranID:     rec.TranID,
		CreatedAt:  createdAtMs,
	}
}

// DateKey returns the UTC calendar date of a millisecond timestamp as
// YYYY-MM-DD, the key of the daily aggregate the event belongs to.
func DateKey(tsMs int64) string {
	return time.UnixMilli(tsMs).UTC().Format("2006-01-02")
}
