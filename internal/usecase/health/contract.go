package health

import "context"

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// PoolCounter reports how many credentials the pool holds.
type PoolCounter interface {
	Len() int
}
