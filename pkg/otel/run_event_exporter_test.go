package otel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/faulttree"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/pipeline"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/sensitivity"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/twin"
)

func float(v float64) *float64 { return &v }

func sampleRun() (pipeline.Result, *twin.Report, *sensitivity.Report) {
	res := pipeline.Result{
		RunID:             "run-1",
		ScenarioName:      "grid",
		ConfigVersion:     pipeline.Version,
		FaultTreeAnalytic: faulttree.Analytic{TopEvent: "TOP", PTop: 0.12},
		Reliability:       pipeline.Reliability{PTop: 0.12, Reliability: 0.88},
		Diagnostics: pipeline.Diagnostics{Stages: []pipeline.StageDiagnostics{
			{Stage: pipeline.StageCCF, Degraded: true},
		}},
	}
	twins := &twin.Report{Twins: []twin.Record{
		{TwinID: "optimistic_01", Mode: twin.ModeOptimistic, Seed: 5, PTop: float(0.1), Reliability: float(0.9), DeltaPTop: float(-0.02)},
		{TwinID: "chaotic_01", Mode: twin.ModeChaotic, Seed: 6, Error: "pipeline_error: boom"},
	}}
	sens := &sensitivity.Report{BaselinePTop: 0.12, Risks: []sensitivity.Record{
		{ID: "R1", Domain: "Power", DeltaPTopMax: 0.05},
		{ID: "R2", Domain: "Gas", DeltaPTopMax: 0.01},
	}}
	return res, twins, sens
}

func TestEventsFromRun(t *testing.T) {
	res, twins, sens := sampleRun()
	events := EventsFromRun(res, twins, sens, 1, time.Unix(100, 0))
	if len(events) != 4 {
		t.Fatalf("expected baseline + 2 twins + 1 risk, got %d", len(events))
	}
	if events[0].Kind != KindBaseline || !events[0].Degraded || events[0].Subject != "TOP" {
		t.Fatalf("unexpected baseline event: %+v", events[0])
	}
	if events[1].DeltaPTop != -0.02 || events[2].Error == "" || events[2].PTop != 0 {
		t.Fatalf("unexpected twin events: %+v %+v", events[1], events[2])
	}
	if events[3].Kind != KindSensitivity || events[3].Subject != "R1" {
		t.Fatalf("unexpected sensitivity event: %+v", events[3])
	}

	if only := EventsFromRun(res, nil, nil, 0, time.Time{}); len(only) != 1 {
		t.Fatalf("expected baseline only, got %d", len(only))
	}
}

func TestRunEventExporterExportBatch(t *testing.T) {
	var captured logsPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	res, twins, sens := sampleRun()
	exporter := NewRunEventExporter(server.URL, "praxis", "engine", 2*time.Second)
	if err := exporter.ExportBatch(context.Background(), EventsFromRun(res, twins, sens, 0, time.Now())); err != nil {
		t.Fatalf("export batch: %v", err)
	}

	if len(captured.ResourceLogs) != 1 {
		t.Fatalf("expected 1 resource log, got %d", len(captured.ResourceLogs))
	}
	records := captured.ResourceLogs[0].ScopeLogs[0].LogRecords
	if len(records) != 5 {
		t.Fatalf("expected 5 log records, got %d", len(records))
	}
	want := []string{"WARN", "INFO", "ERROR", "INFO", "INFO"}
	for i, rec := range records {
		if rec.SeverityText != want[i] {
			t.Fatalf("record %d severity = %s, want %s", i, rec.SeverityText, want[i])
		}
	}
}

func TestRunEventExporterNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	exporter := NewRunEventExporter(server.URL, "", "", 2*time.Second)
	err := exporter.ExportBatch(context.Background(), []RunEvent{{RunID: "run-1", Kind: KindBaseline}})
	if err == nil {
		t.Fatal("expected non-2xx error")
	}
}

func TestRunEventExporterRequiresEndpoint(t *testing.T) {
	exporter := NewRunEventExporter("", "", "", 0)
	if err := exporter.ExportBatch(context.Background(), []RunEvent{{Kind: KindBaseline}}); err == nil {
		t.Fatal("expected missing endpoint error")
	}
	if err := exporter.ExportBatch(context.Background(), nil); err != nil {
		t.Fatalf("empty batch should be a no-op: %v", err)
	}
}
