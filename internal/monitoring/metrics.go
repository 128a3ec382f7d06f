package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Decision metrics
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_core_decisions_total",
			Help: "Total number of evaluated proposals by outcome",
		},
		[]string{"symbol", "kind", "outcome"},
	)

	adjustmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_core_adjustments_total",
			Help: "Total number of accepted decisions the validator adjusted",
		},
		[]string{"symbol"},
	)

	// Execution metrics
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_core_orders_total",
			Help: "Total number of venue orders by operation and result",
		},
		[]string{"venue", "operation", "result"},
	)

	protectionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_core_protection_failures_total",
			Help: "Protective orders that could not be placed after all retries",
		},
		[]string{"venue", "kind"},
	)

	exposurePct = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "risk_core_exposure_pct",
			Help: "Venue-reported total exposure as a percent of equity",
		},
		[]string{"venue"},
	)

	// Drawdown metrics
	drawdownPct = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "risk_core_drawdown_pct",
			Help: "Current drawdown from the daily and weekly baselines",
		},
		[]string{"period"},
	)

	tradingHalted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_core_trading_halted",
			Help: "1 while new positions are halted by the drawdown limit",
		},
	)

	// Transition metrics
	transitionStatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_core_transition_states_total",
			Help: "Transition status changes",
		},
		[]string{"strategy", "status"},
	)

	transitionPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "risk_core_transition_positions",
			Help: "Positions of the active transition by state",
		},
		[]string{"state"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_core_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	// Register metrics
	prometheus.MustRegister(decisionsTotal)
	prometheus.MustRegister(adjustmentsTotal)
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(protectionFailuresTotal)
	prometheus.MustRegister(exposurePct)
	prometheus.MustRegister(drawdownPct)
	prometheus.MustRegister(tradingHalted)
	prometheus.MustRegister(transitionStatesTotal)
	prometheus.MustRegister(transitionPositions)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordDecision counts an evaluated proposal; outcome is accepted or rejected
func RecordDecision(symbol, kind string, accepted, adjusted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	decisionsTotal.WithLabelValues(symbol, kind, outcome).Inc()
	if adjusted {
		adjustmentsTotal.WithLabelValues(symbol).Inc()
	}
}

// RecordOrder counts a venue order attempt
func RecordOrder(venue, operation string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	ordersTotal.WithLabelValues(venue, operation, result).Inc()
}

// RecordProtectionFailure counts an SL or TP that was never placed
func RecordProtectionFailure(venue, kind string) {
	protectionFailuresTotal.WithLabelValues(venue, kind).Inc()
}

// UpdateExposure sets the venue exposure gauge
func UpdateExposure(venue string, pct float64) {
	exposurePct.WithLabelValues(venue).Set(pct)
}

// UpdateDrawdown sets the drawdown gauges
func UpdateDrawdown(dailyPct, weeklyPct float64, halted bool) {
	drawdownPct.WithLabelValues("daily").Set(dailyPct)
	drawdownPct.WithLabelValues("weekly").Set(weeklyPct)
	if halted {
		tradingHalted.Set(1)
	} else {
		tradingHalted.Set(0)
	}
}

// RecordTransitionState counts a transition status change
func RecordTransitionState(strategy, status string) {
	transitionStatesTotal.WithLabelValues(strategy, status).Inc()
}

// UpdateTransitionProgress sets the active transition position gauges
func UpdateTransitionProgress(closed, remaining, inProfit, inLoss int) {
	transitionPositions.WithLabelValues("closed").Set(float64(closed))
	transitionPositions.WithLabelValues("remaining").Set(float64(remaining))
	transitionPositions.WithLabelValues("in_profit").Set(float64(inProfit))
	transitionPositions.WithLabelValues("in_loss").Set(float64(inLoss))
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
