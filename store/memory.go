package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memoryStore implements IBackend in memory, nothing survives the process.
type memoryStore struct {
	sync.RWMutex
	kv  map[string][]byte
	fan *fanout
}

func NewMemory() *memoryStore {
	return &memoryStore{kv: make(map[string][]byte), fan: newFanout()}
}

func (s *memoryStore) Get(key string) ([]byte, error) {
	s.RLock()
	v, ok := s.kv[key]
	s.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *memoryStore) Put(origin, key string, value []byte) error {
	v := append([]byte(nil), value...)
	s.Lock()
	s.kv[key] = v
	s.Unlock()
	s.fan.publish(&Change{Origin: origin, Key: key, Value: v})
	return nil
}

func (s *memoryStore) Delete(origin, key string) error {
	s.Lock()
	delete(s.kv, key)
	s.Unlock()
	s.fan.publish(&Change{Origin: origin, Key: key})
	return nil
}

func (s *memoryStore) Keys(prefix string) ([]string, error) {
	s.RLock()
	var keys []string
	for k := range s.kv {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	s.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

func (s *memoryStore) Subscribe(ctx context.Context) (<-chan *Change, error) {
	return s.fan.subscribe(ctx), nil
}

func (s *memoryStore) Close() error {
	s.fan.close()
	return nil
}
