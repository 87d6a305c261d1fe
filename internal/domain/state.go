package domain

// TrackState ingestion progress and baseline for the tracked account.
// Created once at initialization; only the ingestion engine mutates it.
type TrackState struct {
	T0Ms                  int64       `json:"t0_ms"`
	CursorMs              int64       `json:"cursor_ms"`
	BaselineWalletBalance string      `json:"baseline_wallet_balance"`
	LastUpdatedAt         int64       `json:"last_updated_at"`
	LastRunSummary        *RunSummary `json:"last_run_summary,omitempty"`
}

// RunSummary observability record of the most recent ingestion run.
type RunSummary struct {
	RunID         string `json:"run_id"`
	NewEvents     int    `json:"new_events"`
	FetchedFromMs int64  `json:"fetched_from_ms"`
	FetchedToMs   int64  `json:"fetched_to_ms"`
}
