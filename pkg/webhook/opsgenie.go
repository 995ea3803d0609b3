package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Opsgenie Alert API payload.
type opsgeniePayload struct {
	Message     string            `json:"message"`
	Alias       string            `json:"alias"`
	Description string            `json:"description"`
	Priority    string            `json:"priority"`
	Source      string            `json:"source"`
	Tags        []string          `json:"tags"`
	Details     map[string]string `json:"details"`
	Entity      string            `json:"entity"`
}

// BuildOpsgeniePayload formats an Alert as an Opsgenie alert. A baseline
// at twice the threshold is P1, any other baseline breach P2, and a
// twin-only breach P3.
func BuildOpsgeniePayload(alert Alert) ([]byte, string, error) {
	priority := "P3"
	if alert.Critical() {
		priority = "P2"
		if alert.PTop >= 2*alert.Threshold {
			priority = "P1"
		}
	}

	payload := opsgeniePayload{
		Message:     summary(alert),
		Alias:       alert.ScenarioName + "/" + alert.TopEvent,
		Description: fmt.Sprintf("Top event: %s\nP(top): %.6f\nReliability: %.6f\nWorst twin: %s (%.6f)\nDrivers: %s", alert.TopEvent, alert.PTop, alert.Reliability, alert.WorstTwinID, alert.WorstTwinPTop, strings.Join(alert.Drivers, ", ")),
		Priority:    priority,
		Source:      "praxis",
		Tags:        []string{"praxis", alert.Trigger, alert.ScenarioName},
		Details:     details(alert),
		Entity:      alert.ScenarioName + "/" + alert.TopEvent,
	}

	data, err := json.Marshal(payload)
	return data, "application/json", err
}
