package store

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"go.etcd.io/bbolt"
)

var boltBucket = []byte("minichat")

// boltStore implements IBackend on a bbolt file. bbolt holds an exclusive file
// lock, so all instances sharing it must live in this process.
type boltStore struct {
	db  *bbolt.DB
	fan *fanout
}

func OpenBolt(path string) (*boltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open bolt `%s`: %v", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create bucket: %v", err)
	}
	glog.Infof("store: bolt store opened: %s", path)
	return &boltStore{db: db, fan: newFanout()}, nil
}

func (s *boltStore) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(boltBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// v is only valid inside the transaction.
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *boltStore) Put(origin, key string, value []byte) error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), value)
	}); err != nil {
		glog.Errorf("store: bolt put `%s` error: %v", key, err)
		return err
	}
	s.fan.publish(&Change{Origin: origin, Key: key, Value: append([]byte(nil), value...)})
	return nil
}

func (s *boltStore) Delete(origin, key string) error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	}); err != nil {
		glog.Errorf("store: bolt delete `%s` error: %v", key, err)
		return err
	}
	s.fan.publish(&Change{Origin: origin, Key: key})
	return nil
}

func (s *boltStore) Keys(prefix string) ([]string, error) {
	var keys []string
	p := []byte(prefix)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

func (s *boltStore) Subscribe(ctx context.Context) (<-chan *Change, error) {
	return s.fan.subscribe(ctx), nil
}

func (s *boltStore) Close() error {
	s.fan.close()
	return s.db.Close()
}
