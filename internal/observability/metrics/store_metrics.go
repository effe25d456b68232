package metrics

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const gaugeTimeout = 2 * time.Second

func registerStoreMetrics(source LatestSource, db *sql.DB, logger *log.Logger) {
	if source != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "latest_impact_timestamp_seconds",
				Help: "Time of the newest stored impact",
			},
			func() float64 {
				return latestTimestamp(source, logger)
			},
		))
	}

	if db != nil {
		prometheus.MustRegister(collectors.NewDBStatsCollector(db, "impacts"))
	}
}

func latestTimestamp(source LatestSource, logger *log.Logger) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), gaugeTimeout)
	defer cancel()
	latest, err := source.LatestTimestamp(ctx)
	if err != nil {
		if logger != nil {
			logger.Printf("metrics latest impact query failed: %v", err)
		}
		return 0
	}
	if latest < 0 {
		return 0
	}
	return float64(latest)
}
