package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Счётчик вызовов методов репозитория
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	// Гистограмма времени выполнения запросов
	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	PurchaseOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_outcomes_total",
			Help: "Lead purchase attempts by outcome",
		},
		[]string{"outcome"},
	)

	RiskScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "risk_score",
			Help:    "Aggregate fraud risk score per purchase attempt",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	FraudCheckResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_check_results_total",
			Help: "Individual fraud check verdicts",
		},
		[]string{"check", "result"},
	)
)

var registerOnce sync.Once

func InitMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(RepositoryCalls, RepositoryDuration, PurchaseOutcomes, RiskScores, FraudCheckResults)
	})
}
