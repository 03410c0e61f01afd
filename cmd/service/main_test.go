package main

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/kjstillabower/forecast-gateway/internal/config"
)

// TestOpenSharedStore covers backend selection. The rest of main is wiring;
// its parts are tested in their packages.
func TestOpenSharedStore(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name        string
		backend     string
		addrs       string
		wantBackend string
		wantErr     bool
	}{
		{name: "none", backend: "none"},
		{name: "memcached", backend: "memcached", addrs: "localhost:11211", wantBackend: "memcached"},
		{name: "redis", backend: "redis", addrs: mr.Addr(), wantBackend: "redis"},
		{name: "redis unreachable", backend: "redis", addrs: "127.0.0.1:1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				SharedBackend:      tt.backend,
				SharedAddrs:        tt.addrs,
				SharedTimeout:      200 * time.Millisecond,
				SharedMaxIdleConns: 2,
			}
			store, err := openSharedStore(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("openSharedStore() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("openSharedStore() error = %v", err)
			}
			if tt.wantBackend == "" {
				if store != nil {
					t.Fatalf("openSharedStore() = %v, want nil", store)
				}
				return
			}
			defer store.Close()
			if store.Backend() != tt.wantBackend {
				t.Errorf("Backend() = %q, want %q", store.Backend(), tt.wantBackend)
			}
		})
	}
}
