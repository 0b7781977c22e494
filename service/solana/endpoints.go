package solana

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is implemented by rate limiters that block until a request may proceed.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewLimiter returns a token bucket limiter issuing rps tokens per second.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// RateLimitedTransport wraps a RoundTripper with a limiter.
type RateLimitedTransport struct {
	Limiter Limiter
	Base    http.RoundTripper
	OnWait  func(time.Duration)
}

// RoundTrip waits for the limiter before delegating to the base transport.
func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Limiter != nil {
		start := time.Now()
		if err := t.Limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
		if t.OnWait != nil {
			t.OnWait(time.Since(start))
		}
	}
	return t.base().RoundTrip(req)
}

func (t *RateLimitedTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// SelectRandomEndpoint picks one endpoint from the configured pool.
func SelectRandomEndpoint(endpoints []string) (string, error) {
	if len(endpoints) == 0 {
		return "", errors.New("no RPC endpoints configured")
	}
	return endpoints[rand.IntN(len(endpoints))], nil
}

// WebsocketURL derives the PubSub endpoint from an HTTP RPC endpoint by
// swapping the scheme (http -> ws, https -> wss).
func WebsocketURL(rpcURL string) (string, error) {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return "", fmt.Errorf("invalid RPC URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported RPC URL scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// EndpointLabel returns a metrics-safe label for an endpoint (its host),
// so API keys carried in paths or queries never become label values.
func EndpointLabel(rpcURL string) string {
	u, err := url.Parse(rpcURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
