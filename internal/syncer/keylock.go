package syncer

import (
	"sync"
)

// keyLock hands out one mutex per key. Keys are channel and playlist ids, so
// the map stays small and entries are never removed.
type keyLock struct {
	m     sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyLock) lock(key string) func() {
	k.m.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.m.Unlock()

	l.Lock()

	return l.Unlock
}
