// Package metrics provides Prometheus instrumentation for the fund
// engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SharePrice is the latest computed share price in reference-asset
	// base units.
	SharePrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_share_price_base_units",
		Help: "Latest computed share price in reference-asset base units",
	})

	// Gav is the latest computed gross asset value.
	Gav = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_gav_base_units",
		Help: "Latest computed gross asset value in reference-asset base units",
	})

	// TotalSupply is the outstanding share supply.
	TotalSupply = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_total_supply_base_units",
		Help: "Outstanding share supply in base units",
	})

	// ShutDown is 1 once the fund has been shut down.
	ShutDown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_shut_down",
		Help: "1 if the fund is shut down",
	})

	// RequestsExecuted counts executed requests by type and outcome.
	RequestsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_requests_executed_total",
		Help: "Executed subscription/redemption requests",
	}, []string{"type", "outcome"})

	// OrdersPlaced counts exchange orders by type.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_orders_placed_total",
		Help: "Exchange orders placed",
	}, []string{"type"})

	// Settlements counts manual settlements by result.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_settlements_total",
		Help: "Manual settlements by result",
	}, []string{"result"})

	// TradingErrors counts soft trading failures by code name.
	TradingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_trading_errors_total",
		Help: "Soft trading failures by error code",
	}, []string{"code"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
