package domain

import "github.com/pkg/errors"

var (
	// ErrNotInitialized refresh was called before the baseline was captured.
	ErrNotInitialized = errors.New("tracker state not initialized, run init first")

	// ErrUnauthenticated the caller presented no valid identity.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrRateLimited the exchange throttled the request (HTTP 429 class).
	ErrRateLimited = errors.New("exchange rate limit exceeded")

	// ErrPaginationOverrun the hard page cap was reached while the exchange
	// was still returning full pages. Either the backlog is unexpectedly
	// large or pagination misbehaves; requires investigation.
	ErrPaginationOverrun = errors.New("income pagination overran the page cap")

	// ErrRefreshInFlight another refresh for this account is already running.
	ErrRefreshInFlight = errors.New("refresh already in flight")
)
