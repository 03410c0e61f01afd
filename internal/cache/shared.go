package cache

import (
	"context"
	"strings"
	"time"
)

// keyPrefix namespaces shared-tier keys.
const keyPrefix = "forecast:"

// SharedStore is an optional byte-level tier shared between gateway instances.
// Get returns (nil, false, nil) on a miss. Callers treat every error as a miss.
type SharedStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
	Backend() string
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}
