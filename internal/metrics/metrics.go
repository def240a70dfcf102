// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes the Prometheus counters and histograms
// recorded by the Operation Surface and timeout sweep.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestra_operation_calls_total",
			Help: "Total operation surface calls by operation name and result",
		},
		[]string{"operation", "result"},
	)

	executionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestra_executions_in_state",
			Help: "Number of executions in each state, sampled on each timeout sweep",
		},
		[]string{"state"},
	)

	timeoutSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestra_timeout_sweep_transitions_total",
			Help: "Total executions transitioned to timeout by the sweep",
		},
		[]string{},
	)

	storeTransactionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestra_store_transaction_duration_seconds",
			Help:    "Store transaction latency by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// RecordOperation increments the operation-call counter. result is the
// label its caller passes; mcpserver's Server.record passes "ok" or
// "error".
func RecordOperation(operation, result string) {
	operationCalls.WithLabelValues(operation, result).Inc()
}

// SetExecutionState records the execution count currently observed in
// state, sampled by the lifecycle timeout sweep rather than continuously
// tracked.
func SetExecutionState(state string, count float64) {
	executionState.WithLabelValues(state).Set(count)
}

// RecordTimeoutSweep increments the timeout-sweep transition counter by
// n (the number of executions the sweep moved to timeout).
func RecordTimeoutSweep(n int) {
	if n <= 0 {
		return
	}
	timeoutSweeps.WithLabelValues().Add(float64(n))
}

// ObserveStoreTransaction records how long a named store transaction
// took.
func ObserveStoreTransaction(operation string, d time.Duration) {
	storeTransactionLatency.WithLabelValues(operation).Observe(d.Seconds())
}
