// Package postgres implements store.Store on PostgreSQL using pgx/v5.
//
// Status transitions are a single conditional UPDATE on (id, status,
// version), so two workers racing for the same job cannot both win.
// Ready jobs are served from a partial index over WAITING and DELAYED
// rows ordered by priority, scheduled time, and creation time.
package postgres
