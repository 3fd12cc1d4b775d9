package ctxlogger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/urfave/negroni/v2"
)

func TestLog(t *testing.T) {
	for _, tc := range []struct {
		name      string
		requestID string
		status    int
		level     logrus.Level
	}{
		{"generated request id", "", http.StatusOK, logrus.InfoLevel},
		{"client request id", "abc-123", http.StatusNotFound, logrus.InfoLevel},
		{"server error", "", http.StatusBadGateway, logrus.WarnLevel},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			logger, hook := test.NewNullLogger()
			logger.SetLevel(logrus.DebugLevel)

			var handlerRequestID interface{}

			n := negroni.New()
			n.UseFunc(Register(logger))
			n.UseFunc(Log())
			n.UseHandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
				if entry, ok := GetLogger(r.Context()).(*logrus.Entry); ok {
					handlerRequestID = entry.Data["http.request_id"]
				}
				rw.WriteHeader(tc.status)
			})

			r := httptest.NewRequest(http.MethodGet, "/videos?sort=newest", nil)
			if tc.requestID != "" {
				r.Header.Set(RequestIDHeader, tc.requestID)
			}

			rw := httptest.NewRecorder()
			n.ServeHTTP(rw, r)

			requestID := rw.Header().Get(RequestIDHeader)
			a.NotEmpty(requestID)
			if tc.requestID != "" {
				a.Equal(tc.requestID, requestID)
			}
			a.Equal(requestID, handlerRequestID)

			last := hook.LastEntry()
			if a.NotNil(last) {
				a.Equal("http request finished", last.Message)
				a.Equal(tc.level, last.Level)
				a.Equal(tc.status, last.Data["http.status_code"])
				a.Equal("/videos?sort=newest", last.Data["http.path"])
			}
		})
	}
}

func TestHooks(t *testing.T) {
	a := assert.New(t)

	logger, hook := test.NewNullLogger()

	n := negroni.New()
	n.UseFunc(Register(logger))
	n.UseFunc(func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(AddHook(r.Context(), Hook{
			Before: func(r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
				return l.WithField("hook.before", r.Method)
			},
			After: func(r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
				return l.WithField("hook.after", r.URL.Path)
			},
		})))
	})
	n.UseFunc(Log())
	n.UseHandlerFunc(func(rw http.ResponseWriter, r *http.Request) {})

	n.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if last := hook.LastEntry(); a.NotNil(last) {
		a.Equal("/", last.Data["hook.after"])
		a.Equal(http.MethodGet, last.Data["hook.before"])
	}
}

func TestWithFields(t *testing.T) {
	a := assert.New(t)

	logger, hook := test.NewNullLogger()

	ctx, l := WithFields(WithLogger(context.Background(), logger), logrus.Fields{"job.id": 7})
	l.Info("one")
	GetLogger(ctx).Info("two")

	if a.Len(hook.AllEntries(), 2) {
		for _, e := range hook.AllEntries() {
			a.Equal(7, e.Data["job.id"])
		}
	}
}

func TestAddHookWithoutRegister(t *testing.T) {
	a := assert.New(t)

	logger, hook := test.NewNullLogger()

	r := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	r = r.WithContext(AddHook(WithLogger(r.Context(), logger), Hook{
		Before: func(r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
			return l.WithField("hook.before", true)
		},
	}))

	Log()(httptest.NewRecorder(), r, func(rw http.ResponseWriter, r *http.Request) {})

	if last := hook.LastEntry(); a.NotNil(last) {
		a.Equal(true, last.Data["hook.before"])
	}
}
