package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	turnTotal    *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	completionTotal    *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec
	promptTokensTotal  *prometheus.CounterVec
	outputTokensTotal  *prometheus.CounterVec

	toolDispatchTotal    *prometheus.CounterVec
	toolDispatchDuration *prometheus.HistogramVec
	toolErrorsTotal      *prometheus.CounterVec

	creditsDebitedTotal prometheus.Counter
	debitRefusedTotal   prometheus.Counter

	activeConversations      prometheus.Gauge
	conversationSaveDuration prometheus.Histogram
	conversationLoadDuration prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "turn_total",
					Help: "Total turns by provider and status.",
				},
				[]string{"provider", "status"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "turn_duration_seconds",
					Help:    "Turn duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			completionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "completion_call_total",
					Help: "Total completion calls by provider, mode and status.",
				},
				[]string{"provider", "mode", "status"},
			),
			completionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "completion_call_duration_seconds",
					Help:    "Completion call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			promptTokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "prompt_tokens_total",
					Help: "Total prompt tokens consumed by provider.",
				},
				[]string{"provider"},
			),
			outputTokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "output_tokens_total",
					Help: "Total completion tokens generated by provider.",
				},
				[]string{"provider"},
			),
			toolDispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_dispatch_total",
					Help: "Total tool dispatches by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolDispatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_dispatch_duration_seconds",
					Help:    "Tool dispatch duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool dispatch errors by tool.",
				},
				[]string{"tool"},
			),
			creditsDebitedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "credits_debited_total",
					Help: "Total credits debited from the ledger.",
				},
			),
			debitRefusedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "credit_debit_refused_total",
					Help: "Total ledger debits refused for insufficient balance.",
				},
			),
			activeConversations: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_conversations",
					Help: "Current active conversation count.",
				},
			),
			conversationSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "conversation_save_duration_seconds",
					Help:    "Conversation append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			conversationLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "conversation_load_duration_seconds",
					Help:    "Conversation load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.turnTotal,
			m.turnDuration,
			m.completionTotal,
			m.completionDuration,
			m.promptTokensTotal,
			m.outputTokensTotal,
			m.toolDispatchTotal,
			m.toolDispatchDuration,
			m.toolErrorsTotal,
			m.creditsDebitedTotal,
			m.debitRefusedTotal,
			m.activeConversations,
			m.conversationSaveDuration,
			m.conversationLoadDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordTurn(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.turnTotal.WithLabelValues(provider, status).Inc()
	m.turnDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordCompletionCall(provider, mode string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.completionTotal.WithLabelValues(provider, mode, status).Inc()
	m.completionDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordTokenUsage(provider string, promptTokens, outputTokens int) {
	m := getMetrics()
	m.promptTokensTotal.WithLabelValues(provider).Add(float64(promptTokens))
	m.outputTokensTotal.WithLabelValues(provider).Add(float64(outputTokens))
}

func RecordToolDispatch(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolDispatchTotal.WithLabelValues(tool, status).Inc()
	m.toolDispatchDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordCreditsDebited(amount float64) {
	getMetrics().creditsDebitedTotal.Add(amount)
}

func RecordDebitRefused() {
	getMetrics().debitRefusedTotal.Inc()
}

func SetActiveConversations(count int) {
	getMetrics().activeConversations.Set(float64(count))
}

func RecordConversationSave(duration time.Duration) {
	getMetrics().conversationSaveDuration.Observe(duration.Seconds())
}

func RecordConversationLoad(duration time.Duration) {
	getMetrics().conversationLoadDuration.Observe(duration.Seconds())
}
