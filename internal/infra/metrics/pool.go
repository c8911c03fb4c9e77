package metrics

import (
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(dbPoolConns) }

var dbPoolConns = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "db_pool_connections",
		Help: "Postgres pool connections by state.",
	},
	[]string{"state"}, // 'total', 'idle', 'acquired'
)

// SetDBPoolStats copies a pool snapshot into the gauges.
func SetDBPoolStats(st *pgxpool.Stat) {
	if st == nil {
		return
	}
	dbPoolConns.WithLabelValues("total").Set(float64(st.TotalConns()))
	dbPoolConns.WithLabelValues("idle").Set(float64(st.IdleConns()))
	dbPoolConns.WithLabelValues("acquired").Set(float64(st.AcquiredConns()))
}
