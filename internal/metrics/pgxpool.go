package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPgxPoolMetrics exposes pgx connection pool statistics as gauges on
// the default registry, under the daemon's own metric namespace.
func RegisterPgxPoolMetrics(pool *pgxpool.Pool) {
	gauge := func(name, help string, read func(*pgxpool.Stat) int32) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "stevedore",
			Subsystem: "db",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(read(pool.Stat()))
		})
	}

	prometheus.MustRegister(
		gauge("acquired_conns", "Connections currently checked out of the pool",
			func(s *pgxpool.Stat) int32 { return s.AcquiredConns() }),
		gauge("idle_conns", "Connections sitting idle in the pool",
			func(s *pgxpool.Stat) int32 { return s.IdleConns() }),
		gauge("total_conns", "Connections currently open, acquired or idle",
			func(s *pgxpool.Stat) int32 { return s.TotalConns() }),
		gauge("max_conns", "Configured pool size ceiling",
			func(s *pgxpool.Stat) int32 { return s.MaxConns() }),
	)
}
