package storage

import "sync"

// KeyedMutex hands out one mutex per key so backends can serialize the
// read-previous-then-append sequence of RecordCheck per (client, keyword)
// pair without blocking unrelated pairs.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock locks the mutex for key and returns the matching unlock function.
// Mutexes are kept for the lifetime of the KeyedMutex; the key space is
// bounded by the tracked client/keyword pairs.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
