package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/kbukum/brokerpool/redis"
)

// NewServer starts a miniredis server that is closed when t ends, and
// returns an enabled Config pointing at it.
func NewServer(t testing.TB) (*miniredis.Miniredis, redis.Config) {
	t.Helper()
	srv := miniredis.RunT(t)
	cfg := redis.Config{
		Enabled: true,
		Addr:    srv.Addr(),
	}
	cfg.ApplyDefaults()
	return srv, cfg
}
