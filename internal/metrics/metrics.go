package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transactions_total",
			Help: "Total committed transactions",
		},
		[]string{"type"}, // CREDIT|DEBIT
	)

	TransactionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transactions_rejected_total",
			Help: "Transactions rejected before commit",
		},
		[]string{"reason"}, // validation|not_found|insufficient_funds|duplicate|unavailable|persistence
	)
)

// Handler serves the /metrics endpoint
var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(TransactionsTotal)
	prometheus.MustRegister(TransactionsRejected)
}
