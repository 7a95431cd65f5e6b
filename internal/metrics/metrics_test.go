package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandler_ExposesCollectors(t *testing.T) {
	Captured.WithLabelValues("complete").Inc()
	Dropped.WithLabelValues(ReasonPersist).Inc()
	EvaluationSeconds.Observe(0.2)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{
		`evald_captured_total{mode="complete"}`,
		`evald_worker_dropped_total{reason="persist_failed"}`,
		"evald_evaluation_seconds_bucket",
		"evald_judge_degraded_total",
		"evald_worker_processed_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(JudgeDegraded)
	JudgeDegraded.Inc()
	if got := testutil.ToFloat64(JudgeDegraded); got != before+1 {
		t.Errorf("JudgeDegraded = %v, want %v", got, before+1)
	}
}
