package ops

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveQuery("wss://relay.test", time.Second, 3, nil)
	m.ObservePublish("wss://relay.test", errors.New("rejected"))
	m.ObserveZapTransition("settled")
	m.ObserveCache(true)
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.ObservePublish("wss://a", nil)
	m.ObservePublish("wss://a", errors.New("rejected"))
	m.ObservePublish("wss://a", errors.New("rejected"))
	m.ObserveZapTransition("settled")
	m.ObserveCache(false)
	m.ObserveQuery("wss://a", 10*time.Millisecond, 4, nil)

	if got := testutil.ToFloat64(m.publishAttempts.WithLabelValues("wss://a", "error")); got != 2 {
		t.Errorf("Expected 2 failed publish attempts, got %v", got)
	}
	if got := testutil.ToFloat64(m.zapTransitions.WithLabelValues("settled")); got != 1 {
		t.Errorf("Expected 1 settled transition, got %v", got)
	}
	if got := testutil.ToFloat64(m.queryEvents); got != 4 {
		t.Errorf("Expected 4 queried events, got %v", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.ObserveCache(true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `zapline_cache_lookups_total{result="hit"} 1`) {
		t.Errorf("Expected cache hit counter in output, got: %s", body)
	}
}
