package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

const changeChanSize = 256

// fanout delivers changes to in-process subscribers. A subscriber that does
// not keep up loses changes; the polling path covers the tokens.
type fanout struct {
	sync.Mutex
	next int
	subs map[int]chan *Change
}

func newFanout() *fanout {
	return &fanout{subs: make(map[int]chan *Change)}
}

func (f *fanout) subscribe(ctx context.Context) <-chan *Change {
	ch := make(chan *Change, changeChanSize)

	f.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.Unlock()

	go func() {
		<-ctx.Done()
		f.Lock()
		if _, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(ch)
		}
		f.Unlock()
	}()
	return ch
}

func (f *fanout) publish(c *Change) {
	f.Lock()
	defer f.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- c:
		default:
			changesDropped.Inc()
			glog.Warningf("store: subscriber is slow, dropped change of `%s`", c.Key)
		}
	}
}

func (f *fanout) close() {
	f.Lock()
	defer f.Unlock()
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

// View is an origin-tagged handle on a shared backend, one per client instance.
type View struct {
	backend IBackend
	origin  string
}

func NewView(backend IBackend, origin string) *View {
	return &View{backend: backend, origin: origin}
}

func (v *View) Origin() string { return v.origin }

func (v *View) Get(key string) ([]byte, error) { return v.backend.Get(key) }

func (v *View) Keys(prefix string) ([]string, error) { return v.backend.Keys(prefix) }

func (v *View) Put(key string, value []byte) error {
	if err := v.backend.Put(v.origin, key, value); err != nil {
		writeErrors.Inc()
		return err
	}
	return nil
}

func (v *View) Delete(key string) error {
	if err := v.backend.Delete(v.origin, key); err != nil {
		writeErrors.Inc()
		return err
	}
	return nil
}

// Watch returns nil if the backend cannot subscribe; a nil channel never
// delivers, so callers fall back to polling.
func (v *View) Watch(ctx context.Context) <-chan *Change {
	in, err := v.backend.Subscribe(ctx)
	if err != nil {
		glog.Errorf("store: subscribe error, origin: %s, err: %v", v.origin, err)
		return nil
	}

	out := make(chan *Change, changeChanSize)
	go func() {
		defer close(out)
		for c := range in {
			if c.Origin == v.origin {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// GetJSON decodes the value of key into v. It returns ErrNotFound as is.
func GetJSON(s IStore, key string, v interface{}) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: decode `%s`: %v", key, err)
	}
	return nil
}

func PutJSON(s IStore, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode `%s`: %v", key, err)
	}
	return s.Put(key, data)
}

// GetString returns "" for a missing key.
func GetString(s IStore, key string) (string, error) {
	data, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	} else if err != nil {
		return "", err
	}
	return string(data), nil
}
