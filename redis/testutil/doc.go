// Package testutil starts an in-memory Redis server for tests.
//
//	srv, cfg := testutil.NewServer(t)
//	client, _ := redis.New(cfg, logger.Nop())
//	srv.Get("orders:0:1")
package testutil
