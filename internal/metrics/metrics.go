// Package metrics 定义后端与监控进程的 Prometheus 指标
// 指标在注册前即可使用，main 按进程调用对应的 Must* 注册函数
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

var (
	PollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by result.",
		},
		[]string{"result"}, // ok / error
	)

	TransfersNotified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "transfers_notified_total",
			Help:      "Transfers handed to the backend, by backend status.",
		},
		[]string{"status"}, // success / no_match / error
	)

	TransfersSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "transfers_skipped_total",
			Help:      "Transfers skipped during a cycle, by reason.",
		},
		[]string{"reason"},
	)

	DedupSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "dedup_entries",
		Help:      "Hashes currently held by the deduplicator.",
	})

	CursorHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "cursor_height",
		Help:      "Last block height the poller considers processed.",
	})

	OrdersCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "created_total",
		Help:      "Orders created.",
	})

	AmountCollisions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "amount_collisions_total",
		Help:      "Amount draws rejected by the pending uniqueness index.",
	})

	OrderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Order status transitions by target status.",
		},
		[]string{"status"},
	)

	ReconcileOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "reconcile_total",
			Help:      "Payment notifications by outcome.",
		},
		[]string{"outcome"}, // paid / pending / duplicate / no_match / error
	)

	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "deliveries_total",
			Help:      "Delivery attempts by result.",
		},
		[]string{"result"},
	)
)

// MustRegisterMonitor 注册监控进程指标
func MustRegisterMonitor(reg prometheus.Registerer) {
	reg.MustRegister(PollCycles, TransfersNotified, TransfersSkipped, DedupSize, CursorHeight)
}

// MustRegisterServer 注册后端进程指标
func MustRegisterServer(reg prometheus.Registerer) {
	reg.MustRegister(OrdersCreated, AmountCollisions, OrderTransitions, ReconcileOutcomes, Deliveries)
}

// Handler 暴露默认注册表的指标
func Handler() http.Handler {
	return promhttp.Handler()
}
