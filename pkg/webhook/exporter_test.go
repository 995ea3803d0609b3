package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/faulttree"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/pipeline"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/sensitivity"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/twin"
)

func ptr(v float64) *float64 { return &v }

func sampleResult(pTop float64) pipeline.Result {
	return pipeline.Result{
		RunID:             "run-test-01",
		ScenarioName:      "grid",
		FaultTreeAnalytic: faulttree.Analytic{TopEvent: "TOP", PTop: pTop},
		Reliability:       pipeline.Reliability{PTop: pTop, Reliability: 1 - pTop},
	}
}

func sampleTwins() *twin.Report {
	return &twin.Report{Twins: []twin.Record{
		{TwinID: "optimistic_01", PTop: ptr(0.08)},
		{TwinID: "pessimistic_01", PTop: ptr(0.31)},
		{TwinID: "chaotic_01", Error: "pipeline_error: boom"},
	}}
}

func sampleAlert() Alert {
	sens := &sensitivity.Report{Risks: []sensitivity.Record{{ID: "R1"}, {ID: "R2"}, {ID: "R3"}, {ID: "R4"}}}
	alert, _ := Evaluate(sampleResult(0.25), sampleTwins(), sens, 0.2, time.Now())
	return alert
}

func fastExporter(url, secret string, format Format) *Exporter {
	e := New(url, secret, format, 5000)
	e.Backoff = time.Millisecond
	return e
}

func TestEvaluate(t *testing.T) {
	alert := sampleAlert()
	if alert.Trigger != TriggerBaseline || !alert.Critical() {
		t.Fatalf("expected baseline trigger, got %+v", alert)
	}
	if alert.WorstTwinID != "pessimistic_01" || alert.WorstTwinPTop != 0.31 {
		t.Fatalf("unexpected worst twin: %+v", alert)
	}
	if len(alert.Drivers) != maxDrivers || alert.Drivers[0] != "R1" {
		t.Fatalf("unexpected drivers: %v", alert.Drivers)
	}

	twinOnly, ok := Evaluate(sampleResult(0.1), sampleTwins(), nil, 0.3, time.Now())
	if !ok || twinOnly.Trigger != TriggerTwin || twinOnly.Critical() {
		t.Fatalf("expected twin trigger, got %+v (%v)", twinOnly, ok)
	}
	if _, ok := Evaluate(sampleResult(0.1), sampleTwins(), nil, 0.5, time.Now()); ok {
		t.Fatal("no alert expected below threshold")
	}
	if _, ok := Evaluate(sampleResult(0.9), nil, nil, 0, time.Now()); ok {
		t.Fatal("zero threshold disables alerting")
	}
}

func TestSendGenericPayload(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = body
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e := fastExporter(server.URL, "", FormatGeneric)
	if err := e.Send(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(received) == 0 {
		t.Fatal("expected payload")
	}

	var alert Alert
	if err := json.Unmarshal(received, &alert); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if alert.AlertID != "run-test-01" {
		t.Errorf("alert_id: got %s", alert.AlertID)
	}
}

func TestSendWithHMACSignature(t *testing.T) {
	secret := "test-secret-key"
	var signature string
	var body []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get("X-Webhook-Signature")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e := fastExporter(server.URL, secret, FormatGeneric)
	if err := e.Send(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if signature == "" {
		t.Fatal("expected signature header")
	}
	if !VerifyHMAC(body, secret, signature) {
		t.Fatal("HMAC verification failed")
	}
}

func TestRetryOn5xx(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			t.Fatalf("read request body: %v", err)
		}
		count := atomic.AddInt32(&attempts, 1)
		if count < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e := fastExporter(server.URL, "", FormatGeneric)
	e.MaxRetry = 3
	if err := e.Send(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("send should succeed after retries: %v", err)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestFailAfterMaxRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			t.Fatalf("read request body: %v", err)
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	e := fastExporter(server.URL, "", FormatGeneric)
	e.MaxRetry = 2
	if err := e.Send(context.Background(), sampleAlert()); err == nil {
		t.Fatal("expected error after max retries")
	}
}

func TestSendStopsOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(server.URL, "", FormatGeneric, 5000)
	if err := e.Send(ctx, sampleAlert()); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestPagerDutyFormat(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e := fastExporter(server.URL, "", FormatPagerDuty)
	if err := e.Send(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	var payload pagerDutyPayload
	if err := json.Unmarshal(received, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.EventAction != "trigger" {
		t.Errorf("expected event_action=trigger, got %v", payload.EventAction)
	}
	if payload.Payload.Severity != "critical" || payload.DedupKey != "grid/TOP" {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestOpsgenieFormat(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e := fastExporter(server.URL, "", FormatOpsgenie)
	if err := e.Send(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(received, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["alias"] != "grid/TOP" {
		t.Errorf("expected alias=grid/TOP, got %v", payload["alias"])
	}
	if payload["priority"] != "P2" {
		t.Errorf("expected priority=P2, got %v", payload["priority"])
	}
}

func TestNoRetryOn4xx(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			t.Fatalf("read request body: %v", err)
		}
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	e := fastExporter(server.URL, "", FormatGeneric)
	e.MaxRetry = 3
	if err := e.Send(context.Background(), sampleAlert()); err == nil {
		t.Fatal("expected error on 4xx")
	}
	// 4xx is not retried (only 5xx is)
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("expected 1 attempt for 4xx, got %d", attempts)
	}
}
