package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.UpgradeRejected("route")
	m.FrameReceived("ping")
	m.FrameMalformed()
	m.FrameSent("reply", 1)
	m.SendFailed("closed")
	m.Broadcast("all", 3)
	m.EventIngested("events", "grpc")
	m.AlertTransition("spike", "firing")
}

func TestGather_ActiveConnections(t *testing.T) {
	m := New()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var fam *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "shoplens_ws_active_connections" {
			fam = f
		}
	}
	if fam == nil {
		t.Fatal("shoplens_ws_active_connections: not gathered")
	}
	if got := fam.GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Errorf("active_connections: got %v, want 1", got)
	}
}

func TestHandler_ExposesTextFormat(t *testing.T) {
	m := New()
	m.FrameReceived("subscribe")
	m.FrameReceived("subscribe")
	m.Broadcast("channels", 2)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(rr.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}

	recv, ok := families["shoplens_ws_frames_received_total"]
	if !ok {
		t.Fatal("frames_received_total: missing")
	}
	var subscribe float64
	for _, mt := range recv.GetMetric() {
		for _, lp := range mt.GetLabel() {
			if lp.GetName() == "type" && lp.GetValue() == "subscribe" {
				subscribe = mt.GetCounter().GetValue()
			}
		}
	}
	if subscribe != 2 {
		t.Errorf("frames_received_total{type=subscribe}: got %v, want 2", subscribe)
	}

	hist, ok := families["shoplens_ws_broadcast_recipients"]
	if !ok {
		t.Fatal("broadcast_recipients: missing")
	}
	if n := hist.GetMetric()[0].GetHistogram().GetSampleCount(); n != 1 {
		t.Errorf("broadcast_recipients count: got %d, want 1", n)
	}
}
