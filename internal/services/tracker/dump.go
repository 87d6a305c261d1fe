package tracker

import (
	"github.com/perptrack/perptrack/internal/domain"
)

// Dump is a full export of the persisted collections.
type Dump struct {
	State  *domain.TrackState             `json:"state,omitempty"`
	Days   map[string]domain.DailyMetrics `json:"days"`
	Live   *domain.LiveMetrics            `json:"live,omitempty"`
	Events []domain.LedgerEvent           `json:"events"`
}

// ExportAll returns everything the tracker has persisted, for backup and
// offline inspection.
func (s *Service) ExportAll() (Dump, error) {
	out := Dump{
		Days:   s.state.Days(),
		Events: s.ledger.All(),
	}

	if state, ok := s.state.State(); ok {
		out.State = &state
	}

	metrics, ok, err := s.live.Load()
	if err != nil {
		return Dump{}, err
	}
	if ok {
		out.Live = &metrics
	}

	return out, nil
}
