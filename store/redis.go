package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"
)

const (
	redisOpTimeout = 3 * time.Second
	redisScanCount = 100
)

// redisStore implements IBackend on redis, shared by instances of any number
// of processes. Every write is published on `<prefix>changes`.
type redisStore struct {
	rdb     *redis.Client
	prefix  string
	channel string
}

// NewRedis connects to the redis server at url, e.g. redis://127.0.0.1:6379/0.
func NewRedis(url, prefix string) (*redisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %v", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("store: ping redis: %v", err)
	}
	glog.Infof("store: redis store connected: %s", opts.Addr)
	return newRedisStore(rdb, prefix), nil
}

func newRedisStore(rdb *redis.Client, prefix string) *redisStore {
	if prefix == "" {
		prefix = "minichat:"
	}
	return &redisStore{rdb: rdb, prefix: prefix, channel: prefix + "changes"}
}

func (s *redisStore) Get(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	v, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *redisStore) write(origin, key string, value []byte, del bool) error {
	c := &Change{Origin: origin, Key: key, Value: value}
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if del {
			pipe.Del(ctx, s.prefix+key)
		} else {
			pipe.Set(ctx, s.prefix+key, value, 0)
		}
		pipe.Publish(ctx, s.channel, payload)
		return nil
	})
	if err != nil {
		glog.Errorf("store: redis write `%s` error: %v", key, err)
	}
	return err
}

func (s *redisStore) Put(origin, key string, value []byte) error {
	return s.write(origin, key, value, false)
}

func (s *redisStore) Delete(origin, key string) error {
	return s.write(origin, key, nil, true)
}

func (s *redisStore) Keys(prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	var keys []string
	iter := s.rdb.Scan(ctx, 0, globEscape(s.prefix+prefix)+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// globEscape quotes the redis MATCH metacharacters of s.
func globEscape(s string) string {
	return globReplacer.Replace(s)
}

func (s *redisStore) Subscribe(ctx context.Context) (<-chan *Change, error) {
	ps := s.rdb.Subscribe(ctx, s.channel)
	// Wait for the subscription confirmation, after which no publish is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("store: redis subscribe: %v", err)
	}

	out := make(chan *Change, changeChanSize)
	go func() {
		defer func() {
			_ = ps.Close()
			close(out)
		}()
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					glog.Errorf("store: bad change payload: %s, err: %v", msg.Payload, err)
					continue
				}
				select {
				case out <- &c:
				default:
					changesDropped.Inc()
					glog.Warningf("store: subscriber is slow, dropped change of `%s`", c.Key)
				}
			}
		}
	}()
	return out, nil
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}
