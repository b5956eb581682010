package engine

import (
	"sort"
	"sync"
)

// keyLocks serializes processing per logical patient. Locks are refcounted so
// the map only holds keys with messages in flight; multi-key acquisition
// (merges touch two patients) takes locks in sorted order to stay
// deadlock-free.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// acquire locks every key and returns the release func.
func (k *keyLocks) acquire(keys ...string) func() {
	ordered := dedupeSorted(keys)
	held := make([]*keyLock, 0, len(ordered))
	for _, key := range ordered {
		held = append(held, k.checkout(key))
	}
	for _, l := range held {
		l.mu.Lock()
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
		k.mu.Lock()
		for _, key := range ordered {
			l := k.locks[key]
			l.refs--
			if l.refs == 0 {
				delete(k.locks, key)
			}
		}
		k.mu.Unlock()
	}
}

func (k *keyLocks) checkout(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func dedupeSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key != "" {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	n := 0
	for i, key := range out {
		if i == 0 || key != out[i-1] {
			out[n] = key
			n++
		}
	}
	return out[:n]
}
