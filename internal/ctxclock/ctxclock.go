// Package ctxclock carries the current time source on a context, so that
// stored timestamps and "today" windows can be pinned in tests.
package ctxclock

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytfeeds/internal/ctxlogger"
)

var ErrNoClock = errors.New("ctxclock.ErrNoClock: no clock found in context")

type Clock interface {
	Now() (time.Time, error)
}

// ClockFunc adapts a plain function to Clock.
type ClockFunc func() (time.Time, error)

func (fn ClockFunc) Now() (time.Time, error) { return fn() }

func NewRealClock() Clock {
	return ClockFunc(func() (time.Time, error) { return time.Now(), nil })
}

func NewStaticClock(t time.Time) Clock {
	return ClockFunc(func() (time.Time, error) { return t, nil })
}

// ManualClock stands still until moved.
type ManualClock struct {
	m sync.Mutex
	t time.Time
}

func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{t: t}
}

func (c *ManualClock) Now() (time.Time, error) {
	c.m.Lock()
	defer c.m.Unlock()

	return c.t, nil
}

func (c *ManualClock) Set(t time.Time) {
	c.m.Lock()
	defer c.m.Unlock()

	c.t = t
}

func (c *ManualClock) Advance(d time.Duration) {
	c.m.Lock()
	defer c.m.Unlock()

	c.t = c.t.Add(d)
}

var clockKey int

func WithClock(ctx context.Context, c Clock) context.Context {
	if c == nil {
		c = NewRealClock()
	}

	return context.WithValue(ctx, &clockKey, c)
}

func GetClock(ctx context.Context) Clock {
	if c, ok := ctx.Value(&clockKey).(Clock); ok {
		return c
	}

	return nil
}

func Now(ctx context.Context) (time.Time, error) {
	c := GetClock(ctx)
	if c == nil {
		return time.Time{}, fmt.Errorf("ctxclock.Now: %w", ErrNoClock)
	}

	return c.Now()
}

// NowOr reads the context clock, falling back to c, and then to the real
// time when c is nil too.
func NowOr(ctx context.Context, c Clock) (time.Time, error) {
	if cc := GetClock(ctx); cc != nil {
		c = cc
	}

	if c == nil {
		return time.Now(), nil
	}

	return c.Now()
}

func Register(c Clock) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithClock(r.Context(), c)))
	}
}

// AddLoggerHooks stamps request log lines with the context clock's time at
// the start and end of each request.
func AddLoggerHooks() func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(ctxlogger.AddHook(r.Context(), ctxlogger.Hook{
			Before: stamp("http.request_start"),
			After:  stamp("http.response_end"),
		})))
	}
}

func stamp(field string) ctxlogger.HookFunc {
	return func(r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
		now, err := Now(r.Context())
		if err != nil {
			l.WithError(err).WithField("clock.field", field).Warn("could not read clock for request log")
			return l
		}

		return l.WithField(field, now.Format(time.RFC3339))
	}
}
