package store

import (
	"fmt"
	"strings"
)

// Open opens a backend from a dsn, `memory`, `bolt:<path>` or a redis url.
func Open(dsn string) (IBackend, error) {
	switch {
	case dsn == "memory":
		return NewMemory(), nil
	case strings.HasPrefix(dsn, "bolt:"):
		s, err := OpenBolt(strings.TrimPrefix(dsn, "bolt:"))
		if err != nil {
			return nil, err
		}
		return s, nil
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		s, err := NewRedis(dsn, "")
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("store: unsupported store dsn `%s`", dsn)
}
