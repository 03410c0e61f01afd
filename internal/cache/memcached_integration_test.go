//go:build integration
// +build integration

package cache

import (
	"context"
	"testing"
	"time"
)

// TestMemcachedStore_SetGet_Integration verifies a round trip against a local memcached.
func TestMemcachedStore_SetGet_Integration(t *testing.T) {
	s := NewMemcachedStore("localhost:11211", 500*time.Millisecond, 2)
	defer s.Close()
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Skipf("memcached not reachable: %v", err)
	}

	if err := s.Set(ctx, "current:1.0000:2.0000", []byte(`{"lat":1}`), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := s.Get(ctx, "current:1.0000:2.0000")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v; want hit", ok, err)
	}
	if string(got) != `{"lat":1}` {
		t.Errorf("Get() = %q", got)
	}
}

// TestMemcachedStore_Get_Miss_Integration verifies a missing key is a clean miss.
func TestMemcachedStore_Get_Miss_Integration(t *testing.T) {
	s := NewMemcachedStore("localhost:11211", 500*time.Millisecond, 2)
	defer s.Close()
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Skipf("memcached not reachable: %v", err)
	}
	_, ok, err := s.Get(ctx, "nonexistent-key")
	if err != nil || ok {
		t.Errorf("Get() = %v, %v; want miss", ok, err)
	}
}
