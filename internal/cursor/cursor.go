package cursor

import (
	"context"
	"fmt"
	"sync"
)

// Page is one fetched page. Skipped counts upstream entries the source
// dropped before returning Items, so a page of only skipped entries is not
// an empty one.
type Page[T any] struct {
	Items     []T
	NextToken string
	Skipped   int
}

func (p Page[T]) last() bool {
	return p.NextToken == "" || len(p.Items)+p.Skipped == 0
}

// FetchFunc loads one page for key starting at token. An empty token means
// the first page. An empty NextToken means there are no further pages.
type FetchFunc[T any] func(ctx context.Context, key, token string, pageSize int) (Page[T], error)

// State is the in-memory position of one key.
type State struct {
	NextToken string
	Exhausted bool
}

// Tracker remembers where each key's pagination left off. The map is safe
// for concurrent use, but two GetNext calls for the same key are not
// serialized; callers must not interleave them.
type Tracker[T any] struct {
	fetch FetchFunc[T]

	m      sync.Mutex
	states map[string]State
}

func NewTracker[T any](fetch FetchFunc[T]) *Tracker[T] {
	return &Tracker[T]{
		fetch:  fetch,
		states: make(map[string]State),
	}
}

// Reset forgets the stored position so the next GetNext starts from the
// first page.
func (t *Tracker[T]) Reset(key string) {
	t.m.Lock()
	defer t.m.Unlock()

	delete(t.states, key)
}

func (t *Tracker[T]) State(key string) State {
	t.m.Lock()
	defer t.m.Unlock()

	return t.states[key]
}

// GetNext fetches the page after the stored position. An exhausted key
// returns nothing without calling fetch. A failed fetch leaves the position
// as it was.
func (t *Tracker[T]) GetNext(ctx context.Context, key string, pageSize int) ([]T, error) {
	st := t.State(key)
	if st.Exhausted {
		return nil, nil
	}

	p, err := t.fetch(ctx, key, st.NextToken, pageSize)
	if err != nil {
		return nil, fmt.Errorf("cursor.Tracker.GetNext: %q: %w", key, err)
	}

	t.m.Lock()
	t.states[key] = State{
		NextToken: p.NextToken,
		Exhausted: p.last(),
	}
	t.m.Unlock()

	return p.Items, nil
}
