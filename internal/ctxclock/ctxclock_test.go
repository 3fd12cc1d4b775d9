package ctxclock

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/urfave/negroni/v2"

	"fknsrs.biz/p/ytfeeds/internal/ctxlogger"
)

var epoch = time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)

func TestNow(t *testing.T) {
	a := assert.New(t)

	_, err := Now(context.Background())
	a.ErrorIs(err, ErrNoClock)

	now, err := Now(WithClock(context.Background(), NewStaticClock(epoch)))
	a.NoError(err)
	a.Equal(epoch, now)
}

func TestNowOr(t *testing.T) {
	a := assert.New(t)

	now, err := NowOr(context.Background(), NewStaticClock(epoch))
	a.NoError(err)
	a.Equal(epoch, now)

	later := epoch.Add(time.Hour)
	now, err = NowOr(WithClock(context.Background(), NewStaticClock(later)), NewStaticClock(epoch))
	a.NoError(err)
	a.Equal(later, now)

	now, err = NowOr(context.Background(), nil)
	a.NoError(err)
	a.False(now.IsZero())

	_, err = NowOr(context.Background(), ClockFunc(func() (time.Time, error) {
		return time.Time{}, fmt.Errorf("broken")
	}))
	a.EqualError(err, "broken")
}

func TestManualClock(t *testing.T) {
	a := assert.New(t)

	c := NewManualClock(epoch)

	now, _ := c.Now()
	a.Equal(epoch, now)

	c.Advance(time.Minute)
	now, _ = c.Now()
	a.Equal(epoch.Add(time.Minute), now)

	c.Set(epoch)
	now, _ = c.Now()
	a.Equal(epoch, now)
}

func TestLoggerHooks(t *testing.T) {
	a := assert.New(t)

	logger, hook := test.NewNullLogger()

	n := negroni.New()
	n.UseFunc(ctxlogger.Register(logger))
	n.UseFunc(Register(NewStaticClock(epoch)))
	n.UseFunc(AddLoggerHooks())
	n.UseFunc(ctxlogger.Log())
	n.UseHandlerFunc(func(rw http.ResponseWriter, r *http.Request) {})

	n.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if last := hook.LastEntry(); a.NotNil(last) {
		a.Equal(epoch.Format(time.RFC3339), last.Data["http.request_start"])
		a.Equal(epoch.Format(time.RFC3339), last.Data["http.response_end"])
	}
}
