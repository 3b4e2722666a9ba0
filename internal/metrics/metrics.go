// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package metrics exposes the indexer's Prometheus gauges and counters on
// the [metrics] port spec.md §6 configures, covering the fork scratch pad,
// the download pipeline, the ordinals sequencer, and the BRC-20 engine.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hirosystems/ordhookd/internal/logs"
)

var log = logs.Subsystem("METR")

// Collectors groups every metric this indexer reports. Constructed once at
// startup and threaded through the service layer.
type Collectors struct {
	LatestBlockIndexed      prometheus.Gauge
	LatestInscriptionNumber prometheus.Gauge
	BlocksProcessedTotal    prometheus.Counter
	Brc20OperationsTotal    *prometheus.CounterVec
	ChainReorgTotal         prometheus.Counter
	ActiveSatTracerWorkers  prometheus.Gauge
	RollbackDepthBlocks     prometheus.Histogram
}

// New registers and returns the collector set against the default
// registry.
func New() *Collectors {
	return &Collectors{
		LatestBlockIndexed: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "ordhookd",
			Name:      "latest_block_indexed",
			Help:      "Height of the most recently indexed block.",
		}),
		LatestInscriptionNumber: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "ordhookd",
			Name:      "latest_inscription_number",
			Help:      "Most recently assigned classic inscription number.",
		}),
		BlocksProcessedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "ordhookd",
			Name:      "blocks_processed_total",
			Help:      "Total blocks processed by the download pipeline.",
		}),
		Brc20OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordhookd",
			Name:      "brc20_operations_total",
			Help:      "Total BRC-20 ledger operations emitted, by kind.",
		}, []string{"kind"}),
		ChainReorgTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "ordhookd",
			Name:      "chain_reorg_total",
			Help:      "Total reorgs detected by the fork scratch pad.",
		}),
		ActiveSatTracerWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "ordhookd",
			Name:      "active_sat_tracer_workers",
			Help:      "Sat tracer goroutines currently tracing a sat's origin.",
		}),
		RollbackDepthBlocks: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ordhookd",
			Name:      "rollback_depth_blocks",
			Help:      "Distribution of reorg depths rolled back.",
			Buckets:   []float64{1, 2, 3, 6, 10, 20, 50, 100},
		}),
	}
}

// Server serves the /metrics endpoint on addr until ctx is canceled.
func Server(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		log.Infof("metrics server shutting down")
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
