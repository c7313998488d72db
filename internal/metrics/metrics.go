package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the settlement core. Registered on the default registry and
// served from /metrics by the Prometheus handler.
var (
	ReadingsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voltgrid_readings_accepted_total",
		Help: "Meter readings that passed validation and were folded in",
	})

	ReadingsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voltgrid_readings_rejected_total",
		Help: "Meter readings rejected by validation, labelled by reason",
	}, []string{"reason"})

	UnitsMinted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voltgrid_units_minted_total",
		Help: "Base units minted through settlement",
	})

	UnitsBurned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voltgrid_units_burned_total",
		Help: "Base units burned",
	})

	CertificatesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voltgrid_certificates_issued_total",
		Help: "Renewable certificates issued",
	})

	TradesExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voltgrid_trades_executed_total",
		Help: "Trades executed by the matching engine",
	})

	TradeVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voltgrid_trade_volume_units_total",
		Help: "Cumulative traded volume in base units",
	})

	ClearingPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voltgrid_clearing_price",
		Help: "Most recent clearing price in base units per unit",
	})

	VWAP = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voltgrid_vwap",
		Help: "Volume-weighted average price over the rolling window",
	})

	WriteConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voltgrid_write_conflicts_total",
		Help: "Optimistic concurrency conflicts surfaced to callers",
	})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voltgrid_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
