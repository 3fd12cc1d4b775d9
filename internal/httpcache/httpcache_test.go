package httpcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"fknsrs.biz/p/ytfeeds/internal/ctxclock"
)

func newTestTransport(t *testing.T) (*Transport, *int, string) {
	t.Helper()

	db, err := bbolt.Open(filepath.Join(t.TempDir(), "cache.db"), 0644, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	hits := 0
	s := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		hits++

		if r.URL.Path == "/missing" {
			http.NotFound(rw, r)
			return
		}

		fmt.Fprintf(rw, "response %d", hits)
	}))
	t.Cleanup(s.Close)

	return NewTransport(s.Client().Transport, NewBBoltStorage(db), time.Hour), &hits, s.URL
}

func openStorage(t *testing.T) *BBoltStorage {
	t.Helper()

	db, err := bbolt.Open(filepath.Join(t.TempDir(), "cache.db"), 0644, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewBBoltStorage(db)
}

func get(t *testing.T, tr http.RoundTripper, ctx context.Context, u string) (int, string) {
	t.Helper()

	status, body, _ := getWithHeader(t, tr, ctx, u)

	return status, body
}

func getWithHeader(t *testing.T, tr http.RoundTripper, ctx context.Context, u string) (int, string, http.Header) {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	require.NoError(t, err)

	res, err := tr.RoundTrip(req)
	require.NoError(t, err)
	defer res.Body.Close()

	d, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	return res.StatusCode, string(d), res.Header
}

func TestTransport(t *testing.T) {
	a := assert.New(t)

	tr, hits, base := newTestTransport(t)

	clock := ctxclock.NewManualClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	ctx := ctxclock.WithClock(context.Background(), clock)

	_, body, header := getWithHeader(t, tr, ctx, base+"/a?key=one")
	a.Equal("response 1", body)
	a.Equal("miss", header.Get(StatusHeader))

	_, body, header = getWithHeader(t, tr, ctx, base+"/a?key=two")
	a.Equal("response 1", body, "second request should be served from the cache")
	a.Equal("hit", header.Get(StatusHeader))
	a.Equal(1, *hits)

	_, body = get(t, tr, ctx, base+"/b")
	a.Equal("response 2", body, "urls are cached separately")

	clock.Advance(2 * time.Hour)

	_, body = get(t, tr, ctx, base+"/a")
	a.Equal("response 3", body, "expired entries are refetched")

	_, body = get(t, tr, Fresh(ctx), base+"/a")
	a.Equal("response 4", body, "fresh requests skip the cache")

	_, body = get(t, tr, ctx, base+"/a")
	a.Equal("response 4", body, "fresh responses are stored")
	a.Equal(4, *hits)
}

func TestTransportSkipsErrors(t *testing.T) {
	a := assert.New(t)

	tr, hits, base := newTestTransport(t)
	ctx := ctxclock.WithClock(context.Background(), ctxclock.NewStaticClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))

	status, _ := get(t, tr, ctx, base+"/missing")
	a.Equal(http.StatusNotFound, status)

	status, _ = get(t, tr, ctx, base+"/missing")
	a.Equal(http.StatusNotFound, status)

	a.Equal(2, *hits)
}

func TestKey(t *testing.T) {
	a := assert.New(t)

	parse := func(s string) *url.URL {
		u, err := url.Parse(s)
		require.NoError(t, err)
		return u
	}

	k := Key(parse("https://www.googleapis.com/youtube/v3/videos?id=a&key=secret&part=snippet"))
	a.True(strings.HasPrefix(k, "www.googleapis.com/"), k)
	a.NotContains(k, "secret")

	a.Equal(k, Key(parse("https://www.googleapis.com/youtube/v3/videos?part=snippet&id=a&key=other")))
	a.NotEqual(k, Key(parse("https://www.googleapis.com/youtube/v3/videos?part=snippet&id=b")))
}

func TestPrune(t *testing.T) {
	a := assert.New(t)

	ctx := context.Background()
	s := openStorage(t)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	a.NoError(s.Put(ctx, "old", &Entry{UpdatedAt: at.Add(-time.Hour), Body: []byte("old")}))
	a.NoError(s.Put(ctx, "new", &Entry{UpdatedAt: at, Body: []byte("new")}))

	n, err := s.Prune(ctx, at.Add(-time.Minute))
	a.NoError(err)
	a.Equal(1, n)

	e, err := s.Get(ctx, "old")
	a.NoError(err)
	a.Nil(e)

	e, err = s.Get(ctx, "new")
	if a.NoError(err) && a.NotNil(e) {
		a.Equal("new", string(e.Body))
	}

	n, err = openStorage(t).Prune(ctx, at)
	a.NoError(err)
	a.Zero(n)
}
