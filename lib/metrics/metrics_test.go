// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistered(t *testing.T) {
	SyncCyclesTotal.Inc()
	RouterForwardsTotal.WithLabelValues("human_to_queue", "ok").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := make(map[string]bool)
	for _, family := range families {
		if strings.HasPrefix(family.GetName(), namespace+"_") {
			found[family.GetName()] = true
		}
	}
	for _, name := range []string{"switchboard_sync_cycles_total", "switchboard_router_forwards_total"} {
		if !found[name] {
			t.Errorf("%s not registered", name)
		}
	}
}

func TestForwardCounterLabels(t *testing.T) {
	counter := RouterForwardsTotal.WithLabelValues("worker_to_queue", "error")
	before := testutil.ToFloat64(counter)
	counter.Inc()
	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Errorf("counter = %v, want %v", got, before+1)
	}
}
