package connectors

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultRetryAttempts   = 6
	defaultRetryBaseDelay  = 350 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

// isRetryableResp treats transport errors, 5xx, 429 and 408 as transient.
// Everything else (including other 4xx) is a venue verdict and retrying would
// only repeat it. Caller-side context cancellation is surfaced by resty as an
// error on the request itself and never re-enters the retry loop.
func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	if code >= 500 {
		return true
	}
	if code == 429 || code == 408 {
		return true
	}
	return false
}

// restExecutor bundles the shared per-venue plumbing: a resty client with
// bounded retry and a token bucket every call must pass through.
type restExecutor struct {
	venue   string
	http    *resty.Client
	limiter *rate.Limiter
}

func newRestExecutor(venue, baseURL string, cfg Config) *restExecutor {
	retryCount := defaultRetryAttempts - 1

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(time.Duration(cfg.HTTPTimeoutSeconds) * time.Second).
		SetRetryCount(retryCount).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &restExecutor{
		venue:   venue,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
}

// request hands out a rate-limited request bound to ctx. Acquisition blocks
// the calling goroutine until a token is available or ctx is canceled.
func (e *restExecutor) request(ctx context.Context) (*resty.Request, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		logger.WithFields(map[string]interface{}{
			"venue": e.venue,
		}).WithError(err).Debug("Rate limiter wait aborted")
		return nil, err
	}
	return e.http.R().SetContext(ctx), nil
}
