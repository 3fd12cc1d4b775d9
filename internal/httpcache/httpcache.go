// Package httpcache keeps successful GET responses from the remote APIs in
// a bbolt file, so repeated page loads within the max age cost no quota.
package httpcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"fknsrs.biz/p/ytfeeds/internal/ctxclock"
	"fknsrs.biz/p/ytfeeds/internal/ctxlogger"
)

// StatusHeader is set on every response the Transport returns, to "hit" or
// "miss".
const StatusHeader = "X-Ytfeeds-Cache"

type Entry struct {
	UpdatedAt  time.Time
	URL        string
	Status     string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *Entry) response(req *http.Request, status string) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(StatusHeader, status)

	return &http.Response{
		Status:        e.Status,
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

type Storage interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, e *Entry) error
}

// credentialParams are dropped from cache keys so that rotating the api key
// keeps the cache warm.
var credentialParams = []string{"key", "access_token"}

// Key names the cache slot for u: its host and a hash of the rest.
func Key(u *url.URL) string {
	c := *u
	q := c.Query()
	for _, p := range credentialParams {
		q.Del(p)
	}
	c.RawQuery = q.Encode()
	c.Fragment = ""

	sum := sha256.Sum256([]byte(c.String()))

	return c.Host + "/" + hex.EncodeToString(sum[:])
}

var bucketName = []byte("responses")

type BBoltStorage struct {
	db *bbolt.DB
}

func NewBBoltStorage(db *bbolt.DB) *BBoltStorage {
	return &BBoltStorage{db: db}
}

func (s *BBoltStorage) Get(ctx context.Context, key string) (*Entry, error) {
	var e *Entry

	if err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}

		// only valid for the life of the transaction
		d := b.Get([]byte(key))
		if d == nil {
			return nil
		}

		var r Entry
		if err := gob.NewDecoder(bytes.NewReader(d)).Decode(&r); err != nil {
			return fmt.Errorf("could not decode %s: %w", key, err)
		}

		e = &r

		return nil
	}); err != nil {
		return nil, fmt.Errorf("httpcache.BBoltStorage.Get: %w", err)
	}

	return e, nil
}

func (s *BBoltStorage) Put(ctx context.Context, key string, e *Entry) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return fmt.Errorf("httpcache.BBoltStorage.Put: could not encode entry: %w", err)
	}

	if err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}

		return b.Put([]byte(key), buf.Bytes())
	}); err != nil {
		return fmt.Errorf("httpcache.BBoltStorage.Put: %w", err)
	}

	return nil
}

// Prune deletes entries last updated before cutoff, along with any that no
// longer decode, and reports how many went.
func (s *BBoltStorage) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0

	if err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}

		var stale [][]byte

		if err := b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&e); err != nil || e.UpdatedAt.Before(cutoff) {
				stale = append(stale, bytes.Clone(k))
			}

			return ctx.Err()
		}); err != nil {
			return err
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		removed = len(stale)

		return nil
	}); err != nil {
		return 0, fmt.Errorf("httpcache.BBoltStorage.Prune: %w", err)
	}

	return removed, nil
}

var freshKey int

// Fresh marks requests made with ctx as needing a network round trip. The
// response is still written to the cache.
func Fresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, &freshKey, true)
}

func isFresh(ctx context.Context) bool {
	v, _ := ctx.Value(&freshKey).(bool)
	return v
}

// Transport serves successful GET responses from storage until they are
// older than maxAge, measured with the request context's clock. Storage
// failures are logged and otherwise ignored.
type Transport struct {
	transport http.RoundTripper
	storage   Storage
	maxAge    time.Duration
}

func NewTransport(transport http.RoundTripper, storage Storage, maxAge time.Duration) *Transport {
	if transport == nil {
		transport = http.DefaultTransport
	}

	if maxAge == 0 {
		maxAge = time.Hour * 24
	}

	return &Transport{
		transport: transport,
		storage:   storage,
		maxAge:    maxAge,
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return t.transport.RoundTrip(req)
	}

	ctx := req.Context()
	key := Key(req.URL)
	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"http.url":  req.URL.Host + req.URL.Path,
		"cache.key": key,
	})

	now, err := ctxclock.NowOr(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("httpcache.Transport.RoundTrip: %w", err)
	}

	if !isFresh(ctx) {
		e, err := t.storage.Get(ctx, key)
		switch {
		case err != nil:
			l.WithError(err).Warn("could not read http cache")
		case e != nil && now.Sub(e.UpdatedAt) < t.maxAge:
			l.Debug("http cache hit")
			return e.response(req, "hit"), nil
		}
	}

	res, err := t.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		res.Header.Set(StatusHeader, "miss")
		return res, nil
	}

	d, err := io.ReadAll(res.Body)
	_ = res.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("httpcache.Transport.RoundTrip: could not read body: %w", err)
	}

	e := &Entry{
		UpdatedAt:  now,
		URL:        req.URL.Redacted(),
		Status:     res.Status,
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       d,
	}

	if err := t.storage.Put(ctx, key, e); err != nil {
		l.WithError(err).Warn("could not write http cache")
	}

	return e.response(req, "miss"), nil
}
