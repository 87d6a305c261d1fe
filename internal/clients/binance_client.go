// Package clients constructs exchange API clients.
package clients

import (
	"context"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/pkg/errors"

	"github.com/perptrack/perptrack/internal/domain"
)

// recvWindowMs generous clock-skew tolerance passed with every signed call.
const recvWindowMs = 20000

// NewBinanceFuturesClient creates an authenticated USDT-M futures client.
// Request signing (HMAC-SHA256 over the canonical query string, timestamp and
// API-key header) is handled by the library.
func NewBinanceFuturesClient(apiKey, apiSecret string) *futures.Client {
	return futures.NewClient(apiKey, apiSecret)
}

// FuturesIncomeClient issues the income and account calls the tracker needs.
// It performs no retries: a failed fetch fails the whole attempt and the
// retry policy belongs to the caller.
type FuturesIncomeClient struct {
	client *futures.Client
}

func NewFuturesIncomeClient(client *futures.Client) *FuturesIncomeClient {
	return &FuturesIncomeClient{client: client}
}

// FetchIncome returns raw income records in [startMs, endMs], at most limit.
func (c *FuturesIncomeClient) FetchIncome(ctx context.Context, startMs, endMs int64, limit int) ([]domain.IncomeRecord, error) {
	raw, err := c.client.NewGetIncomeHistoryService().
		StartTime(startMs).
		EndTime(endMs).
		Limit(int64(limit)).
		Do(ctx, futures.WithRecvWindow(recvWindowMs))
	if err != nil {
		return nil, wrapExchangeErr(err, "fetch income history")
	}

	records := make([]domain.IncomeRecord, 0, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		records = append(records, domain.IncomeRecord{
			Time:       r.Time,
			IncomeType: r.IncomeType,
			Asset:      r.Asset,
			Income:     r.Income,
			Symbol:     r.Symbol,
			TranID:     r.TranID,
		})
	}

	return records, nil
}

// FetchWalletBalance returns the wallet balance of the given asset as the
// exchange-reported decimal string. Missing asset reads as "0".
func (c *FuturesIncomeClient) FetchWalletBalance(ctx context.Context, asset string) (string, error) {
	account, err := c.client.NewGetAccountService().Do(ctx, futures.WithRecvWindow(recvWindowMs))
	if err != nil {
		return "", wrapExchangeErr(err, "fetch futures account")
	}

	for _, a := range account.Assets {
		if a != nil && a.Asset == asset {
			return a.WalletBalance, nil
		}
	}

	return "0", nil
}

// wrapExchangeErr surfaces throttling as a distinct error kind so callers can
// tell it apart from other fetch failures.
func wrapExchangeErr(err error, msg string) error {
	if apiErr, ok := err.(*common.APIError); ok {
		if apiErr.Code == -1003 || apiErr.Code == -1015 {
			return errors.Wrapf(domain.ErrRateLimited, "%s: %s", msg, apiErr.Message)
		}
	}
	return errors.Wrap(err, msg)
}
