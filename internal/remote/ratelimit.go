package remote

import (
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"fknsrs.biz/p/ytfeeds/internal/ctxlogger"
)

// RateLimitedTransport holds requests back so that no host sees more than
// rps requests per second. A zero rps disables limiting.
type RateLimitedTransport struct {
	transport http.RoundTripper
	rps       float64

	m        sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewRateLimitedTransport(transport http.RoundTripper, rps float64) *RateLimitedTransport {
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &RateLimitedTransport{
		transport: transport,
		rps:       rps,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (t *RateLimitedTransport) limiter(host string) *rate.Limiter {
	t.m.Lock()
	defer t.m.Unlock()

	l, ok := t.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(t.rps), 1)
		t.limiters[host] = l
	}

	return l
}

func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.rps <= 0 {
		return t.transport.RoundTrip(req)
	}

	l := t.limiter(req.URL.Host)

	if !l.Allow() {
		ctxlogger.GetLogger(req.Context()).WithField("http.host", req.URL.Host).Debug("remote.RateLimitedTransport: waiting for rate limit")

		if err := l.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("remote.RateLimitedTransport.RoundTrip: %w", err)
		}
	}

	return t.transport.RoundTrip(req)
}
