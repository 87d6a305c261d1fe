package tracker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/perptrack/perptrack/internal/domain"
	"github.com/perptrack/perptrack/internal/storage/ledger"
	"github.com/perptrack/perptrack/internal/storage/live"
	trackstore "github.com/perptrack/perptrack/internal/storage/tracker"
)

type fakeClient struct {
	balance string
	fetch   func(startMs, endMs int64, limit int) ([]domain.IncomeRecord, error)
	calls   int
}

func (f *fakeClient) FetchIncome(_ context.Context, startMs, endMs int64, limit int) ([]domain.IncomeRecord, error) {
	f.calls++
	if f.fetch == nil {
		return nil, nil
	}
	return f.fetch(startMs, endMs, limit)
}

func (f *fakeClient) FetchWalletBalance(_ context.Context, _ string) (string, error) {
	return f.balance, nil
}

func newTestService(t *testing.T, client incomeClient) *Service {
	t.Helper()

	dir := t.TempDir()

	ledgerStore, err := ledger.NewStore(filepath.Join(dir, "ledger"))
	require.NoError(t, err)
	t.Cleanup(func() { ledgerStore.Close() })

	stateStore, err := trackstore.NewStore(dir)
	require.NoError(t, err)

	liveStore, err := live.NewStore(dir)
	require.NoError(t, err)

	return NewService(zap.NewNop(), client, ledgerStore, stateStore, liveStore, "USDT")
}

// fixedClock pins the service clock to a known instant.
func fixedClock(svc *Service, at time.Time) {
	svc.now = func() time.Time { return at }
}

var testT0 = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func TestInitBaseline(t *testing.T) {
	client := &fakeClient{balance: "1000.00000000"}
	svc := newTestService(t, client)
	fixedClock(svc, testT0)

	state, created, err := svc.InitBaseline(context.Background())
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, testT0.UnixMilli(), state.T0Ms)
	require.Equal(t, testT0.UnixMilli()-safeBufferMs, state.CursorMs)
	require.Equal(t, "1000.00000000", state.BaselineWalletBalance)

	metrics, ok, err := svc.live.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1000.00000000", metrics.InitialBalance)
	require.Equal(t, "0", metrics.NetSinceT0)

	// second init returns the stored baseline untouched
	client.balance = "9999"
	again, created, err := svc.InitBaseline(context.Background())
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, state, again)
}

func TestRefreshRequiresInit(t *testing.T) {
	svc := newTestService(t, &fakeClient{})

	_, err := svc.Refresh(context.Background())
	require.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestRefreshRejectsConcurrentRun(t *testing.T) {
	svc := newTestService(t, &fakeClient{balance: "1000"})
	fixedClock(svc, testT0)

	_, _, err := svc.InitBaseline(context.Background())
	require.NoError(t, err)

	svc.refreshMu.Lock()
	defer svc.refreshMu.Unlock()

	_, err = svc.Refresh(context.Background())
	require.ErrorIs(t, err, domain.ErrRefreshInFlight)
}

func TestRefreshEndToEnd(t *testing.T) {
	t0Ms := testT0.UnixMilli()
	events := []domain.IncomeRecord{
		{Time: t0Ms + 1000, IncomeType: "REALIZED_PNL", Asset: "USDT", Income: "10.5", Symbol: "BTCUSDT", TranID: 1},
		{Time: t0Ms + 2000, IncomeType: "COMMISSION", Asset: "USDT", Income: "-0.5", Symbol: "BTCUSDT", TranID: 2},
	}
	client := &fakeClient{
		balance: "1000.00000000",
		fetch: func(startMs, endMs int64, limit int) ([]domain.IncomeRecord, error) {
			return events, nil
		},
	}
	svc := newTestService(t, client)
	fixedClock(svc, testT0)

	_, _, err := svc.InitBaseline(context.Background())
	require.NoError(t, err)

	fixedClock(svc, testT0.Add(5*time.Second))
	result, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.NewEvents)
	require.Equal(t, t0Ms+2000, result.CursorMs)
	require.NotEmpty(t, result.RunID)

	date := domain.DateKey(t0Ms + 1000)
	day, ok := svc.state.Day(date)
	require.True(t, ok)
	require.Equal(t, "10", day.Net)
	require.Equal(t, "10.5", day.RealisedPnl)
	require.Equal(t, "-0.5", day.Commission)
	require.Equal(t, 2, day.Count)
	require.Equal(t, "1010", day.Balance)
	require.Equal(t, "0.01", day.PctChange)

	metrics, ok, err := svc.live.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "10", metrics.NetSinceT0)
	require.Equal(t, "10", metrics.NetToday)
	require.Equal(t, "10.5", metrics.RealisedPnlToday)
	require.Equal(t, "-0.5", metrics.CommissionToday)
	require.Equal(t, 1, metrics.WinCount)
	require.Equal(t, 0, metrics.LossCount)
	require.Equal(t, "1000.00000000", metrics.InitialBalance)

	state, _ := svc.state.State()
	require.Equal(t, t0Ms+2000, state.CursorMs)
	require.NotNil(t, state.LastRunSummary)
	require.Equal(t, 2, state.LastRunSummary.NewEvents)
}

func TestRefreshIdempotent(t *testing.T) {
	t0Ms := testT0.UnixMilli()
	events := []domain.IncomeRecord{
		{Time: t0Ms + 1000, IncomeType: "REALIZED_PNL", Asset: "USDT", Income: "10.5", Symbol: "BTCUSDT", TranID: 1},
		{Time: t0Ms + 2000, IncomeType: "COMMISSION", Asset: "USDT", Income: "-0.5", Symbol: "BTCUSDT", TranID: 2},
	}
	client := &fakeClient{
		balance: "1000",
		fetch: func(startMs, endMs int64, limit int) ([]domain.IncomeRecord, error) {
			return events, nil
		},
	}
	svc := newTestService(t, client)
	fixedClock(svc, testT0)

	_, _, err := svc.InitBaseline(context.Background())
	require.NoError(t, err)

	fixedClock(svc, testT0.Add(5*time.Second))
	first, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.NewEvents)

	daysAfterFirst := svc.state.Days()
	liveAfterFirst, _, err := svc.live.Load()
	require.NoError(t, err)

	// the exchange returns the same window again, nothing may change
	second, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, second.NewEvents)
	require.Equal(t, first.CursorMs, second.CursorMs)

	require.Equal(t, 2, svc.ledger.Len())
	require.Equal(t, daysAfterFirst, svc.state.Days())

	liveAfterSecond, _, err := svc.live.Load()
	require.NoError(t, err)
	require.Equal(t, liveAfterFirst, liveAfterSecond)
}

func TestRefreshDeduplicatesAgainstLedger(t *testing.T) {
	t0Ms := testT0.UnixMilli()
	known := domain.IncomeRecord{Time: t0Ms + 1000, IncomeType: "REALIZED_PNL", Asset: "USDT", Income: "5", Symbol: "BTCUSDT", TranID: 1}
	fresh := domain.IncomeRecord{Time: t0Ms + 3000, IncomeType: "FUNDING_FEE", Asset: "USDT", Income: "-0.01", Symbol: "BTCUSDT", TranID: 2}

	batch := []domain.IncomeRecord{known}
	client := &fakeClient{
		balance: "1000",
		fetch: func(startMs, endMs int64, limit int) ([]domain.IncomeRecord, error) {
			return batch, nil
		},
	}
	svc := newTestService(t, client)
	fixedClock(svc, testT0)

	_, _, err := svc.InitBaseline(context.Background())
	require.NoError(t, err)

	fixedClock(svc, testT0.Add(5*time.Second))
	_, err = svc.Refresh(context.Background())
	require.NoError(t, err)

	// overlapping window: already-ingested event plus one new one
	batch = []domain.IncomeRecord{known, fresh}
	result, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.NewEvents)
	require.Equal(t, t0Ms+3000, result.CursorMs)
	require.Equal(t, 2, svc.ledger.Len())

	date := domain.DateKey(t0Ms + 1000)
	day, _ := svc.state.Day(date)
	require.Equal(t, "5", day.RealisedPnl)
	require.Equal(t, "-0.01", day.Funding)
	require.Equal(t, 2, day.Count)
}

func TestRefreshRepeatedRecordInOneBatch(t *testing.T) {
	t0Ms := testT0.UnixMilli()
	rec := domain.IncomeRecord{Time: t0Ms + 1000, IncomeType: "REALIZED_PNL", Asset: "USDT", Income: "5", Symbol: "BTCUSDT", TranID: 1}
	client := &fakeClient{
		balance: "1000",
		fetch: func(startMs, endMs int64, limit int) ([]domain.IncomeRecord, error) {
			return []domain.IncomeRecord{rec, rec}, nil
		},
	}
	svc := newTestService(t, client)
	fixedClock(svc, testT0)

	_, _, err := svc.InitBaseline(context.Background())
	require.NoError(t, err)

	fixedClock(svc, testT0.Add(5*time.Second))
	result, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.NewEvents)
	require.Equal(t, 1, svc.ledger.Len())

	day, _ := svc.state.Day(domain.DateKey(rec.Time))
	require.Equal(t, "5", day.Net)
	require.Equal(t, 1, day.Count)
}

func TestRefreshFiltersOtherAssets(t *testing.T) {
	t0Ms := testT0.UnixMilli()
	client := &fakeClient{
		balance: "1000",
		fetch: func(startMs, endMs int64, limit int) ([]domain.IncomeRecord, error) {
			return []domain.IncomeRecord{
				{Time: t0Ms + 1000, IncomeType: "REALIZED_PNL", Asset: "USDT", Income: "5", Symbol: "BTCUSDT", TranID: 1},
				{Time: t0Ms + 2000, IncomeType: "REALIZED_PNL", Asset: "BNB", Income: "0.1", Symbol: "BTCUSDT", TranID: 2},
			}, nil
		},
	}
	svc := newTestService(t, client)
	fixedClock(svc, testT0)

	_, _, err := svc.InitBaseline(context.Background())
	require.NoError(t, err)

	fixedClock(svc, testT0.Add(5*time.Second))
	result, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.NewEvents)
	// the cursor only tracks events of the tracked asset
	require.Equal(t, t0Ms+1000, result.CursorMs)

	all := svc.ledger.All()
	require.Len(t, all, 1)
	require.Equal(t, "USDT", all[0].Asset)
}

func TestRefreshEmptyWindow(t *testing.T) {
	client := &fakeClient{balance: "1000"}
	svc := newTestService(t, client)
	fixedClock(svc, testT0)

	state, _, err := svc.InitBaseline(context.Background())
	require.NoError(t, err)

	fixedClock(svc, testT0.Add(time.Minute))
	result, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.NewEvents)
	require.Equal(t, state.CursorMs, result.CursorMs)
	require.Equal(t, 0, svc.ledger.Len())
}

func TestRefreshWindowStart(t *testing.T) {
	t0Ms := testT0.UnixMilli()

	var starts []int64
	var batch []domain.IncomeRecord
	client := &fakeClient{
		balance: "1000",
		fetch: func(startMs, endMs int64, limit int) ([]domain.IncomeRecord, error) {
			starts = append(starts, startMs)
			return batch, nil
		},
	}
	svc := newTestService(t, client)
	fixedClock(svc, testT0)

	_, _, err := svc.InitBaseline(context.Background())
	require.NoError(t, err)

	// first run starts a safety buffer behind t0
	fixedClock(svc, testT0.Add(5*time.Second))
	batch = []domain.IncomeRecord{
		{Time: t0Ms + 1000, IncomeType: "REALIZED_PNL", Asset: "USDT", Income: "5", Symbol: "BTCUSDT", TranID: 1},
	}
	_, err = svc.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, t0Ms-safeBufferMs, starts[0])

	// once the cursor moved past t0, later runs start behind the cursor
	fixedClock(svc, testT0.Add(30*time.Minute))
	batch = nil
	_, err = svc.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, t0Ms+1000-safeBufferMs, starts[1])
}

func TestRefreshPagination(t *testing.T) {
	t0Ms := testT0.UnixMilli()

	fullPage := make([]domain.IncomeRecord, incomePageLimit)
	for i := range fullPage {
		fullPage[i] = domain.IncomeRecord{
			Time:       t0Ms + int64(i),
			IncomeType: "FUNDING_FEE",
			Asset:      "USDT",
			Income:     "0.001",
			Symbol:     "BTCUSDT",
			TranID:     int64(i + 1),
		}
	}
	tail := []domain.IncomeRecord{
		{Time: t0Ms + int64(incomePageLimit), IncomeType: "FUNDING_FEE", Asset: "USDT", Income: "0.001", Symbol: "BTCUSDT", TranID: int64(incomePageLimit + 1)},
	}

	var starts []int64
	client := &fakeClient{
		balance: "1000",
		fetch: func(startMs, endMs int64, limit int) ([]domain.IncomeRecord, error) {
			starts = append(starts, startMs)
			if len(starts) == 1 {
				return fullPage, nil
			}
			return tail, nil
		},
	}
	svc := newTestService(t, client)
	fixedClock(svc, testT0)

	_, _, err := svc.InitBaseline(context.Background())
	require.NoError(t, err)

	fixedClock(svc, testT0.Add(time.Hour))
	result, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, incomePageLimit+1, result.NewEvents)
	require.Len(t, starts, 2)
	// a full page advances the window to just past its last event
	require.Equal(t, fullPage[incomePageLimit-1].Time+1, starts[1])
}

func TestRefreshPaginationOverrun(t *testing.T) {
	client := &fakeClient{balance: "1000"}
	client.fetch = func(startMs, endMs int64, limit int) ([]domain.IncomeRecord, error) {
		page := make([]domain.IncomeRecord, limit)
		for i := range page {
			page[i] = domain.IncomeRecord{
				Time:       startMs + int64(i),
				IncomeType: "FUNDING_FEE",
				Asset:      "USDT",
				Income:     "0.001",
				Symbol:     "BTCUSDT",
				TranID:     startMs + int64(i),
			}
		}
		return page, nil
	}
	svc := newTestService(t, client)
	fixedClock(svc, testT0)

	_, _, err := svc.InitBaseline(context.Background())
	require.NoError(t, err)

	fixedClock(svc, testT0.Add(time.Hour))
	_, err = svc.Refresh(context.Background())
	require.ErrorIs(t, err, domain.ErrPaginationOverrun)
	require.Equal(t, maxIncomePages, client.calls)

	// an aborted run leaves the ledger and cursor untouched
	require.Equal(t, 0, svc.ledger.Len())
	state, _ := svc.state.State()
	require.Equal(t, testT0.UnixMilli()-safeBufferMs, state.CursorMs)
}

func TestRefreshTransfersExcludedFromNet(t *testing.T) {
	t0Ms := testT0.UnixMilli()
	client := &fakeClient{
		balance: "1000",
		fetch: func(startMs, endMs int64, limit int) ([]domain.IncomeRecord, error) {
			return []domain.IncomeRecord{
				{Time: t0Ms + 1000, IncomeType: "REALIZED_PNL", Asset: "USDT", Income: "5", Symbol: "BTCUSDT", TranID: 1},
				{Time: t0Ms + 2000, IncomeType: "TRANSFER", Asset: "USDT", Income: "1000", TranID: 2},
			}, nil
		},
	}
	svc := newTestService(t, client)
	fixedClock(svc, testT0)

	_, _, err := svc.InitBaseline(context.Background())
	require.NoError(t, err)

	fixedClock(svc, testT0.Add(5*time.Second))
	_, err = svc.Refresh(context.Background())
	require.NoError(t, err)

	day, _ := svc.state.Day(domain.DateKey(t0Ms + 1000))
	require.Equal(t, "5", day.Net)
	require.Equal(t, "1000", day.Transfer)
	require.Equal(t, 2, day.Count)

	metrics, _, err := svc.live.Load()
	require.NoError(t, err)
	require.Equal(t, "5", metrics.NetSinceT0)
	require.Equal(t, "1000", metrics.TransferToday)
}

func TestRefreshDecimalExactness(t *testing.T) {
	t0Ms := testT0.UnixMilli()
	client := &fakeClient{
		balance: "1000",
		fetch: func(startMs, endMs int64, limit int) ([]domain.IncomeRecord, error) {
			return []domain.IncomeRecord{
				{Time: t0Ms + 1000, IncomeType: "REALIZED_PNL", Asset: "USDT", Income: "0.00000001", Symbol: "BTCUSDT", TranID: 1},
				{Time: t0Ms + 2000, IncomeType: "REALIZED_PNL", Asset: "USDT", Income: "0.00000001", Symbol: "BTCUSDT", TranID: 2},
				{Time: t0Ms + 3000, IncomeType: "REALIZED_PNL", Asset: "USDT", Income: "0.00000001", Symbol: "BTCUSDT", TranID: 3},
				{Time: t0Ms + 4000, IncomeType: "REALIZED_PNL", Asset: "USDT", Income: "-0.00000002", Symbol: "BTCUSDT", TranID: 4},
			}, nil
		},
	}
	svc := newTestService(t, client)
	fixedClock(svc, testT0)

	_, _, err := svc.InitBaseline(context.Background())
	require.NoError(t, err)

	fixedClock(svc, testT0.Add(5*time.Second))
	_, err = svc.Refresh(context.Background())
	require.NoError(t, err)

	day, _ := svc.state.Day(domain.DateKey(t0Ms + 1000))
	require.Equal(t, "0.00000001", day.Net)
	require.Equal(t, "0.00000001", day.RealisedPnl)
}
