package connectors

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
)

// TestIsRetryableResp verifies retry decisions for assorted errors and HTTP responses.
func TestIsRetryableResp(t *testing.T) {
	cases := []struct {
		name string
		resp *resty.Response
		err  error
		want bool
	}{
		{name: "error present", err: assertError{}, want: true},
		{name: "server error", resp: fakeResponse(500), want: true},
		{name: "too many requests", resp: fakeResponse(429), want: true},
		{name: "timeout", resp: fakeResponse(408), want: true},
		{name: "ok response", resp: fakeResponse(200), want: false},
		{name: "client error", resp: fakeResponse(400), want: false},
		{name: "nil resp", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := isRetryableResp(tc.resp, tc.err)
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

// TestRequestHonorsCanceledContext ensures a canceled caller context aborts
// before any token is consumed or request issued.
func TestRequestHonorsCanceledContext(t *testing.T) {
	exec := newRestExecutor("test", "http://example", Config{RatePerSec: 1, Burst: 1, HTTPTimeoutSeconds: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := exec.request(ctx); err == nil {
		t.Fatal("expected error from canceled context")
	}
}

// TestRequestBlocksOnTokenBucket checks that an exhausted bucket delays the
// next acquisition by roughly the refill interval.
func TestRequestBlocksOnTokenBucket(t *testing.T) {
	exec := newRestExecutor("test", "http://example", Config{RatePerSec: 20, Burst: 1, HTTPTimeoutSeconds: 1})

	ctx := context.Background()
	if _, err := exec.request(ctx); err != nil {
		t.Fatalf("unexpected error on first acquisition: %v", err)
	}

	start := time.Now()
	if _, err := exec.request(ctx); err != nil {
		t.Fatalf("unexpected error on second acquisition: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("expected second acquisition to wait for refill, waited %v", elapsed)
	}
}

type assertError struct{}

func (assertError) Error() string { return "err" }

func fakeResponse(status int) *resty.Response {
	return &resty.Response{RawResponse: &http.Response{StatusCode: status}}
}
