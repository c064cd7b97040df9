package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// leveledZap adapts zap to retryablehttp.LeveledLogger. Intermediate request
// failures are logged at warn because they are retried.
type leveledZap struct {
	inner *zap.SugaredLogger
}

func (l leveledZap) Error(msg string, keysAndValues ...any) {
	l.inner.Warnw(msg, keysAndValues...)
}

func (l leveledZap) Warn(msg string, keysAndValues ...any) {
	l.inner.Warnw(msg, keysAndValues...)
}

func (l leveledZap) Info(msg string, keysAndValues ...any) {
	l.inner.Debugw(msg, keysAndValues...)
}

func (l leveledZap) Debug(msg string, keysAndValues ...any) {
	l.inner.Debugw(msg, keysAndValues...)
}

type HTTPOption func(*retryablehttp.Client)

// WithMaxRetries sets the number of retries per request.
func WithMaxRetries(maxRetries int) HTTPOption {
	return func(client *retryablehttp.Client) {
		client.RetryMax = maxRetries
	}
}

// WithRetryWait bounds the backoff between retries.
func WithRetryWait(waitMin, waitMax time.Duration) HTTPOption {
	return func(client *retryablehttp.Client) {
		client.RetryWaitMin = waitMin
		client.RetryWaitMax = waitMax
	}
}

func WithHTTPLogger(logger *zap.Logger) HTTPOption {
	return func(client *retryablehttp.Client) {
		if logger == nil {
			return
		}
		client.Logger = retryablehttp.LeveledLogger(leveledZap{inner: logger.Named("remote_http").Sugar()})
	}
}

func WithTransport(transport http.RoundTripper) HTTPOption {
	return func(client *retryablehttp.Client) {
		client.HTTPClient.Transport = transport
	}
}

// NewHTTPClient returns a standard client backed by retryablehttp. Connection
// errors and 5xx responses other than 501 are retried; 429 is handed back to
// the caller.
func NewHTTPClient(timeout time.Duration, options ...HTTPOption) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = cleanhttp.DefaultPooledTransport()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 250 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(leveledZap{inner: zap.NewNop().Sugar()})
	retryClient.CheckRetry = retryPolicy

	for _, option := range options {
		option(retryClient)
	}

	client := retryClient.StandardClient()
	if timeout > 0 {
		client.Timeout = timeout
	}
	return client
}

func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
