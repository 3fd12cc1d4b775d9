package ctxlogger

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// context registration

var loggerKey int

func WithLogger(ctx context.Context, l logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, &loggerKey, l)
}

func GetLogger(ctx context.Context) logrus.FieldLogger {
	if v := ctx.Value(&loggerKey); v != nil {
		return v.(logrus.FieldLogger)
	}

	return logrus.StandardLogger()
}

// WithFields returns a context whose logger carries fields, along with that
// logger.
func WithFields(ctx context.Context, fields logrus.Fields) (context.Context, logrus.FieldLogger) {
	l := GetLogger(ctx).WithFields(fields)
	return WithLogger(ctx, l), l
}

// hooks

// HookFunc decorates the request logger.
type HookFunc func(r *http.Request, l logrus.FieldLogger) logrus.FieldLogger

// Hook runs Before when Log starts a request and After once the response has
// been written. Either may be nil.
type Hook struct {
	Before HookFunc
	After  HookFunc
}

type hookSet struct {
	m sync.Mutex
	a []Hook
}

func (h *hookSet) add(hook Hook) {
	h.m.Lock()
	defer h.m.Unlock()

	h.a = append(h.a, hook)
}

func (h *hookSet) apply(r *http.Request, l logrus.FieldLogger, pick func(Hook) HookFunc) logrus.FieldLogger {
	if h == nil {
		return l
	}

	h.m.Lock()
	a := append([]Hook(nil), h.a...)
	h.m.Unlock()

	for _, hook := range a {
		if fn := pick(hook); fn != nil {
			l = fn(r, l)
		}
	}

	return l
}

var hookSetKey int

func getHookSet(ctx context.Context) *hookSet {
	if v, ok := ctx.Value(&hookSetKey).(*hookSet); ok {
		return v
	}

	return nil
}

// AddHook attaches hook to the request's hook set, creating one if Register
// has not already.
func AddHook(ctx context.Context, hook Hook) context.Context {
	h := getHookSet(ctx)
	if h == nil {
		h = &hookSet{}
		ctx = context.WithValue(ctx, &hookSetKey, h)
	}

	h.add(hook)

	return ctx
}

// middleware

func Register(l logrus.FieldLogger) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		ctx := context.WithValue(r.Context(), &hookSetKey, &hookSet{})
		next(rw, r.WithContext(WithLogger(ctx, l)))
	}
}

const RequestIDHeader = "X-Request-Id"

// Log writes a line when a request starts and another when it finishes.
// Every request gets an id, taken from the X-Request-Id header when the
// client sent one, and the logger stored on the context carries it.
func Log() func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		rw.Header().Set(RequestIDHeader, requestID)

		hooks := getHookSet(r.Context())

		var l logrus.FieldLogger = GetLogger(r.Context()).WithFields(logrus.Fields{
			"http.request_id": requestID,
			"http.method":     r.Method,
			"http.path":       r.URL.String(),
			"http.host":       r.Host,
			"http.referer":    r.Header.Get("referer"),
			"http.user_agent": r.Header.Get("user-agent"),
		})

		l = hooks.apply(r, l, func(h Hook) HookFunc { return h.Before })

		r = r.WithContext(WithLogger(r.Context(), l))

		defer func() {
			status := 0

			if nrw, ok := rw.(interface {
				Status() int
				Size() int
			}); ok {
				status = nrw.Status()
				l = l.WithFields(logrus.Fields{
					"http.status_code":   status,
					"http.response_size": nrw.Size(),
				})
			}

			l = l.WithField("http.duration", time.Since(start).String())

			l = hooks.apply(r, l, func(h Hook) HookFunc { return h.After })

			if status >= http.StatusInternalServerError {
				l.Warn("http request finished")
			} else {
				l.Info("http request finished")
			}
		}()

		l.Debug("http request started")

		next(rw, r)
	}
}
