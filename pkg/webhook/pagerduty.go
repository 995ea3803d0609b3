package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PagerDuty Events API v2 payload.
type pagerDutyPayload struct {
	RoutingKey  string         `json:"routing_key"`
	EventAction string         `json:"event_action"`
	DedupKey    string         `json:"dedup_key,omitempty"`
	Payload     pdEventPayload `json:"payload"`
}

type pdEventPayload struct {
	Summary       string            `json:"summary"`
	Source        string            `json:"source"`
	Severity      string            `json:"severity"`
	Timestamp     string            `json:"timestamp"`
	Component     string            `json:"component"`
	Group         string            `json:"group"`
	CustomDetails map[string]string `json:"custom_details"`
}

// BuildPagerDutyPayload formats an Alert as a PagerDuty Events v2 trigger.
func BuildPagerDutyPayload(alert Alert) ([]byte, string, error) {
	severity := "warning"
	if alert.Critical() {
		severity = "critical"
	}

	payload := pagerDutyPayload{
		EventAction: "trigger",
		DedupKey:    alert.ScenarioName + "/" + alert.TopEvent,
		Payload: pdEventPayload{
			Summary:       summary(alert),
			Source:        "praxis/" + alert.ScenarioName,
			Severity:      severity,
			Timestamp:     alert.Timestamp.Format("2006-01-02T15:04:05.000+0000"),
			Component:     alert.TopEvent,
			Group:         alert.ScenarioName,
			CustomDetails: details(alert),
		},
	}

	data, err := json.Marshal(payload)
	return data, "application/json", err
}

func summary(alert Alert) string {
	if alert.Critical() {
		return fmt.Sprintf("[%s] %s probability %.4f above threshold %.4f", alert.ScenarioName, alert.TopEvent, alert.PTop, alert.Threshold)
	}
	return fmt.Sprintf("[%s] twin %s pushes %s probability to %.4f (threshold %.4f)", alert.ScenarioName, alert.WorstTwinID, alert.TopEvent, alert.WorstTwinPTop, alert.Threshold)
}

func details(alert Alert) map[string]string {
	return map[string]string{
		"alert_id":         alert.AlertID,
		"trigger":          alert.Trigger,
		"p_top":            fmt.Sprintf("%.6f", alert.PTop),
		"p_top_mc":         fmt.Sprintf("%.6f", alert.PTopMC),
		"reliability":      fmt.Sprintf("%.6f", alert.Reliability),
		"threshold":        fmt.Sprintf("%.6f", alert.Threshold),
		"worst_twin":       alert.WorstTwinID,
		"worst_twin_p_top": fmt.Sprintf("%.6f", alert.WorstTwinPTop),
		"drivers":          strings.Join(alert.Drivers, ", "),
		"degraded":         fmt.Sprintf("%t", alert.Degraded),
	}
}
