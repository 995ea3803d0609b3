package webhook

import (
	"time"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/pipeline"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/sensitivity"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/twin"
)

// Alert triggers.
const (
	TriggerBaseline = "baseline"
	TriggerTwin     = "twin"
)

// maxDrivers caps the sensitivity drivers quoted in an alert.
const maxDrivers = 3

// Alert reports a top-event probability above its threshold, either in the
// baseline or in at least one adversarial twin.
type Alert struct {
	AlertID       string    `json:"alert_id"`
	Timestamp     time.Time `json:"timestamp"`
	ScenarioName  string    `json:"scenario_name"`
	TopEvent      string    `json:"top_event"`
	Trigger       string    `json:"trigger"`
	Threshold     float64   `json:"threshold"`
	PTop          float64   `json:"p_top"`
	PTopMC        float64   `json:"p_top_mc,omitempty"`
	Reliability   float64   `json:"reliability"`
	WorstTwinID   string    `json:"worst_twin_id,omitempty"`
	WorstTwinPTop float64   `json:"worst_twin_p_top,omitempty"`
	Drivers       []string  `json:"drivers,omitempty"`
	Degraded      bool      `json:"degraded,omitempty"`
}

// Critical reports whether the baseline itself crossed the threshold.
func (a Alert) Critical() bool {
	return a.Trigger == TriggerBaseline
}

// Evaluate builds an alert when the baseline p_top, or any twin's p_top,
// reaches threshold. A non-positive threshold disables alerting.
func Evaluate(res pipeline.Result, twins *twin.Report, sens *sensitivity.Report, threshold float64, at time.Time) (Alert, bool) {
	if !(threshold > 0) {
		return Alert{}, false
	}
	alert := Alert{
		AlertID:      res.RunID,
		Timestamp:    at.UTC(),
		ScenarioName: res.ScenarioName,
		TopEvent:     res.FaultTreeAnalytic.TopEvent,
		Threshold:    threshold,
		PTop:         res.FaultTreeAnalytic.PTop,
		PTopMC:       res.FaultTreeMC.PTopMean,
		Reliability:  res.Reliability.Reliability,
		Degraded:     res.Diagnostics.Degraded(),
	}
	if twins != nil {
		for _, rec := range twins.Twins {
			if rec.PTop == nil {
				continue
			}
			if alert.WorstTwinID == "" || *rec.PTop > alert.WorstTwinPTop {
				alert.WorstTwinID = rec.TwinID
				alert.WorstTwinPTop = *rec.PTop
			}
		}
	}
	switch {
	case alert.PTop >= threshold:
		alert.Trigger = TriggerBaseline
	case alert.WorstTwinID != "" && alert.WorstTwinPTop >= threshold:
		alert.Trigger = TriggerTwin
	default:
		return Alert{}, false
	}
	if sens != nil {
		for i, rec := range sens.Risks {
			if i == maxDrivers {
				break
			}
			alert.Drivers = append(alert.Drivers, rec.ID)
		}
	}
	return alert, true
}
