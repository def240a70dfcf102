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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordOperation_IncrementsByOperationAndResult(t *testing.T) {
	initial := testutil.ToFloat64(operationCalls.With(prometheus.Labels{"operation": "start_workflow", "result": "ok"}))

	RecordOperation("start_workflow", "ok")

	after := testutil.ToFloat64(operationCalls.With(prometheus.Labels{"operation": "start_workflow", "result": "ok"}))
	if after != initial+1 {
		t.Errorf("expected count to increment by 1, got initial=%f, after=%f", initial, after)
	}
}

func TestRecordTimeoutSweep_IgnoresZero(t *testing.T) {
	initial := testutil.ToFloat64(timeoutSweeps.WithLabelValues())

	RecordTimeoutSweep(0)

	after := testutil.ToFloat64(timeoutSweeps.WithLabelValues())
	if after != initial {
		t.Errorf("expected zero-count sweep to leave the counter unchanged, got initial=%f, after=%f", initial, after)
	}

	RecordTimeoutSweep(3)
	final := testutil.ToFloat64(timeoutSweeps.WithLabelValues())
	if final != initial+3 {
		t.Errorf("expected counter to increase by 3, got %f", final)
	}
}
