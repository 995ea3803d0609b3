package otel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/pipeline"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/semconv"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/sensitivity"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/twin"
)

// Event kinds.
const (
	KindBaseline    = "baseline"
	KindTwin        = "twin"
	KindSensitivity = "sensitivity"
)

// RunEvent is one summarized outcome of an engine run.
type RunEvent struct {
	RunID        string
	ScenarioName string
	Kind         string
	// Subject is the twin id or risk id the event describes.
	Subject     string
	PTop        float64
	Reliability float64
	DeltaPTop   float64
	Degraded    bool
	Error       string
	Timestamp   time.Time
	Labels      map[string]string
}

// EventsFromRun flattens a baseline result and its optional twin and
// sensitivity reports into events. At most topRisks sensitivity records are
// emitted.
func EventsFromRun(res pipeline.Result, twins *twin.Report, sens *sensitivity.Report, topRisks int, at time.Time) []RunEvent {
	events := []RunEvent{{
		RunID:        res.RunID,
		ScenarioName: res.ScenarioName,
		Kind:         KindBaseline,
		Subject:      res.FaultTreeAnalytic.TopEvent,
		PTop:         res.FaultTreeAnalytic.PTop,
		Reliability:  res.Reliability.Reliability,
		Degraded:     res.Diagnostics.Degraded(),
		Timestamp:    at,
		Labels:       map[string]string{"config_version": res.ConfigVersion},
	}}
	if twins != nil {
		for _, rec := range twins.Twins {
			ev := RunEvent{
				RunID:        res.RunID,
				ScenarioName: res.ScenarioName,
				Kind:         KindTwin,
				Subject:      rec.TwinID,
				Degraded:     rec.Degraded,
				Error:        rec.Error,
				Timestamp:    at,
				Labels: map[string]string{
					"twin.mode": rec.Mode,
					"twin.seed": strconv.FormatInt(rec.Seed, 10),
				},
			}
			if rec.PTop != nil {
				ev.PTop = *rec.PTop
				ev.Reliability = *rec.Reliability
				ev.DeltaPTop = *rec.DeltaPTop
			}
			events = append(events, ev)
		}
	}
	if sens != nil {
		for i, rec := range sens.Risks {
			if topRisks > 0 && i >= topRisks {
				break
			}
			events = append(events, RunEvent{
				RunID:        res.RunID,
				ScenarioName: res.ScenarioName,
				Kind:         KindSensitivity,
				Subject:      rec.ID,
				PTop:         sens.BaselinePTop,
				DeltaPTop:    rec.DeltaPTopMax,
				Timestamp:    at,
				Labels:       map[string]string{"risk.domain": rec.Domain},
			})
		}
	}
	return events
}

// RunEventExporter sends run events to an OTLP/HTTP logs endpoint.
type RunEventExporter struct {
	endpoint    string
	serviceName string
	scopeName   string
	client      *http.Client
}

// NewRunEventExporter constructs an OTLP/HTTP logs exporter.
func NewRunEventExporter(
	endpoint string,
	serviceName string,
	scopeName string,
	timeout time.Duration,
) *RunEventExporter {
	if serviceName == "" {
		serviceName = "praxis-engine"
	}
	if scopeName == "" {
		scopeName = "praxis/engine"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RunEventExporter{
		endpoint:    endpoint,
		serviceName: serviceName,
		scopeName:   scopeName,
		client:      &http.Client{Timeout: timeout},
	}
}

// ExportBatch posts one OTLP payload that contains all provided events.
func (e *RunEventExporter) ExportBatch(ctx context.Context, events []RunEvent) error {
	if len(events) == 0 {
		return nil
	}
	if e.endpoint == "" {
		return fmt.Errorf("otlp endpoint is required")
	}

	payload := buildLogsPayload(e.serviceName, e.scopeName, events)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal otlp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build otlp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send otlp payload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("otlp endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

type logsPayload struct {
	ResourceLogs []resourceLogs `json:"resourceLogs"`
}

type resourceLogs struct {
	Resource  resource    `json:"resource"`
	ScopeLogs []scopeLogs `json:"scopeLogs"`
}

type resource struct {
	Attributes []keyValue `json:"attributes"`
}

type scopeLogs struct {
	Scope      scope       `json:"scope"`
	LogRecords []logRecord `json:"logRecords"`
}

type scope struct {
	Name string `json:"name"`
}

type logRecord struct {
	TimeUnixNano         string     `json:"timeUnixNano"`
	ObservedTimeUnixNano string     `json:"observedTimeUnixNano"`
	SeverityText         string     `json:"severityText"`
	Body                 anyValue   `json:"body"`
	Attributes           []keyValue `json:"attributes"`
}

type keyValue struct {
	Key   string   `json:"key"`
	Value anyValue `json:"value"`
}

type anyValue struct {
	StringValue string   `json:"stringValue,omitempty"`
	DoubleValue *float64 `json:"doubleValue,omitempty"`
	BoolValue   *bool    `json:"boolValue,omitempty"`
}

func buildLogsPayload(serviceName string, scopeName string, events []RunEvent) logsPayload {
	records := make([]logRecord, 0, len(events))
	for _, event := range events {
		records = append(records, toLogRecord(event))
	}

	return logsPayload{
		ResourceLogs: []resourceLogs{
			{
				Resource: resource{
					Attributes: []keyValue{
						strAttribute("service.name", serviceName),
					},
				},
				ScopeLogs: []scopeLogs{
					{
						Scope:      scope{Name: scopeName},
						LogRecords: records,
					},
				},
			},
		},
	}
}

func toLogRecord(event RunEvent) logRecord {
	now := strconv.FormatInt(time.Now().UTC().UnixNano(), 10)
	ts := strconv.FormatInt(event.Timestamp.UnixNano(), 10)
	if event.Timestamp.IsZero() {
		ts = now
	}

	attrs := []keyValue{
		strAttribute(semconv.AttrRunID, event.RunID),
		strAttribute(semconv.AttrScenarioName, event.ScenarioName),
		strAttribute("praxis.event.kind", event.Kind),
		strAttribute("praxis.event.subject", event.Subject),
		doubleAttribute(semconv.AttrPTop, event.PTop),
		doubleAttribute(semconv.AttrReliability, event.Reliability),
		doubleAttribute("praxis.delta_p_top", event.DeltaPTop),
		boolAttribute(semconv.AttrStageDegraded, event.Degraded),
	}
	if event.Error != "" {
		attrs = append(attrs, strAttribute("error.message", event.Error))
	}
	keys := make([]string, 0, len(event.Labels))
	for key := range event.Labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		attrs = append(attrs, strAttribute("label."+key, event.Labels[key]))
	}

	return logRecord{
		TimeUnixNano:         ts,
		ObservedTimeUnixNano: now,
		SeverityText:         severityFromEvent(event),
		Body: anyValue{
			StringValue: fmt.Sprintf(
				"kind=%s subject=%s p_top=%.6f delta=%.6f scenario=%s",
				event.Kind,
				event.Subject,
				event.PTop,
				event.DeltaPTop,
				event.ScenarioName,
			),
		},
		Attributes: attrs,
	}
}

func strAttribute(key string, value string) keyValue {
	return keyValue{Key: key, Value: anyValue{StringValue: value}}
}

func doubleAttribute(key string, value float64) keyValue {
	v := value
	return keyValue{Key: key, Value: anyValue{DoubleValue: &v}}
}

func boolAttribute(key string, value bool) keyValue {
	v := value
	return keyValue{Key: key, Value: anyValue{BoolValue: &v}}
}

func severityFromEvent(event RunEvent) string {
	switch {
	case event.Error != "":
		return "ERROR"
	case event.Degraded:
		return "WARN"
	default:
		return "INFO"
	}
}
