// Package redis implements store.Store on Redis via go-redis.
//
// Each job is a Hash holding its JSON document plus the fields the
// compare-and-set needs (status, version, worker, heartbeat). Pending jobs
// are indexed per queue in a Sorted Set scored by ScheduledFor, and all
// state changes run as Lua scripts so a Transition is atomic on the
// server. Dead letter entries are JSON strings indexed by job and by time.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
