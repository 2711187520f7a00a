package lilith

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimitedTransport waits on a shared token bucket before each request.
type RateLimitedTransport struct {
	Base    http.RoundTripper
	Limiter *rate.Limiter
}

// NewRateLimitedTransport allows rps requests per second with the given burst.
// A nil base uses http.DefaultTransport.
func NewRateLimitedTransport(base http.RoundTripper, rps float64, burst int) *RateLimitedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedTransport{
		Base:    base,
		Limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.Base.RoundTrip(req)
}
