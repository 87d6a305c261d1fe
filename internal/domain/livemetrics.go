package domain

// LiveMetrics single current-snapshot summary consumed by the dashboard.
// Fully overwritten on every ingestion run, never merged incrementally.
type LiveMetrics struct {
	TrackingSinceMs  int64  `json:"tracking_since_ms"`
	LastUpdatedAt    int64  `json:"last_updated_at"`
	NetSinceT0       string `json:"net_since_t0"`
	NetToday         string `json:"net_today"`
	Net7d            string `json:"net_7d"`
	RealisedPnlToday string `json:"realised_pnl_today"`
	FundingToday     string `json:"funding_today"`
	CommissionToday  string `json:"commission_today"`
	TransferToday    string `json:"transfer_today"`
	RealisedPnl7d    string `json:"realised_pnl_7d"`
	Funding7d        string `json:"funding_7d"`
	Commission7d     string `json:"commission_7d"`
	Transfer7d       string `json:"transfer_7d"`
	InitialBalance   string `json:"initial_balance"`
	WinCount         int    `json:"win_count"`
	LossCount        int    `json:"loss_count"`
}

// ZeroLiveMetrics returns the all-zero snapshot written at initialization.
func ZeroLiveMetrics(t0Ms, nowMs int64, initialBalance string) LiveMetrics {
	return LiveMetrics{
		TrackingSinceMs:  t0Ms,
		LastUpdatedAt:    nowMs,
		NetSinceT0:       "0",
		NetToday:         "0",
		Net7d:            "0",
		RealisedPnlToday: "0",
		FundingToday:     "0",
		CommissionToday:  "0",
		TransferToday:    "0",
		RealisedPnl7d:    "0",
		Funding7d:        "0",
		Commission7d:     "0",
		Transfer7d:       "0",
		InitialBalance:   initialBalance,
		WinCount:         0,
		LossCount:        0,
	}
}
