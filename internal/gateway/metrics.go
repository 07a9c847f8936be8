package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paygate_orders_created_total",
			Help: "Total number of orders created by gateway name",
		},
		[]string{"gateway"},
	)

	keychainAllocations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "paygate_keychain_allocations_total",
			Help: "Total number of keychain indices allocated",
		},
	)

	callbackAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paygate_callback_attempts_total",
			Help: "Total number of callback HTTP attempts by outcome",
		},
		[]string{"outcome"},
	)

	callbackDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paygate_callback_deliveries_total",
			Help: "Total number of finished callback loops by result",
		},
		[]string{"result"},
	)

	wsPushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "paygate_websocket_pushes_total",
			Help: "Total number of order updates pushed to live subscriptions",
		},
	)
)
