package numeric

import (
	"fmt"
	"math"
	"strings"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/schema"
)

// Probability bounds applied at the normalizer boundary.
const (
	MinProb = 1e-5
	MaxProb = 0.99999
)

// DefaultClass is the failure-class table key used for unknown classes.
const DefaultClass = "DEFAULT"

// Weights is the risk-score weight triple.
type Weights struct {
	Likelihood   float64 `yaml:"likelihood" json:"likelihood"`
	Severity     float64 `yaml:"severity" json:"severity"`
	FailureClass float64 `yaml:"failure_class" json:"failure_class"`
}

// Config controls risk scoring.
type Config struct {
	SeverityMax         float64            `yaml:"severity_max" json:"severity_max"`
	Weights             Weights            `yaml:"weights" json:"weights"`
	FailureClassWeights map[string]float64 `yaml:"failure_class_weight" json:"failure_class_weight"`
}

// DefaultConfig returns the standard scoring table.
func DefaultConfig() Config {
	return Config{
		SeverityMax: 5,
		Weights:     Weights{Likelihood: 0.5, Severity: 0.3, FailureClass: 0.2},
		FailureClassWeights: map[string]float64{
			"CMF":        1.25,
			"SPF":        1.00,
			"LF":         0.90,
			"ENV":        0.80,
			"CYBER":      1.15,
			DefaultClass: 1.00,
		},
	}
}

// Row is one normalized risk.
type Row struct {
	ID                 string  `json:"id"`
	Domain             string  `json:"domain,omitempty"`
	Name               string  `json:"name,omitempty"`
	FailureClass       string  `json:"failure_class,omitempty"`
	PBase              float64 `json:"p_base"`
	Severity           float64 `json:"severity"`
	SeverityNorm       float64 `json:"severity_norm"`
	FailureClassWeight float64 `json:"failure_class_weight"`
	RPN                float64 `json:"rpn"`
	RiskScore          float64 `json:"risk_score"`
}

// Result holds normalized rows in input order.
type Result struct {
	Rows     []Row                   `json:"rows"`
	Warnings []string                `json:"warnings,omitempty"`
	Defaults []schema.AppliedDefault `json:"defaults,omitempty"`
	// Skipped lists indexes of input rows that could not be normalized.
	Skipped []int `json:"skipped,omitempty"`
}

// Probs returns p_base keyed by risk id.
func (r Result) Probs() map[string]float64 {
	out := make(map[string]float64, len(r.Rows))
	for _, row := range r.Rows {
		out[row.ID] = row.PBase
	}
	return out
}

// Normalize converts raw risk rows into bounded base probabilities and
// weighted risk scores. Rows with an empty id or a non-finite likelihood are
// skipped with a warning; other malformed fields fall back to neutral values.
func Normalize(risks []schema.Risk, cfg Config) Result {
	cfg = normalizeConfig(cfg)
	defaultWeight := cfg.FailureClassWeights[DefaultClass]
	scale := math.Max(1, defaultWeight)

	result := Result{Rows: make([]Row, 0, len(risks))}
	for i, risk := range risks {
		if strings.TrimSpace(risk.ID) == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("risk row %d has no id; skipped", i))
			result.Skipped = append(result.Skipped, i)
			continue
		}
		if !finite(risk.Likelihood) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("risk %s likelihood is not finite; skipped", risk.ID))
			result.Skipped = append(result.Skipped, i)
			continue
		}

		// Zero is the unset value; negative severities clamp to 0.
		severity := risk.Severity
		switch {
		case !finite(severity) || severity == 0:
			result.Defaults = append(result.Defaults, schema.AppliedDefault{
				Kind:   schema.KindSeverity,
				Key:    risk.ID,
				Reason: "severity missing or invalid, using 1",
			})
			severity = 1
		case severity < 0:
			severity = 0
		}

		class := strings.ToUpper(strings.TrimSpace(risk.FailureClass))
		fcWeight, ok := cfg.FailureClassWeights[class]
		if !ok {
			fcWeight = defaultWeight
		}

		pBase := Clamp(risk.Likelihood, MinProb, MaxProb)
		sevNorm := Clamp(severity/cfg.SeverityMax, 0, 1)
		score := cfg.Weights.Likelihood*pBase +
			cfg.Weights.Severity*sevNorm +
			cfg.Weights.FailureClass*(fcWeight/scale)

		result.Rows = append(result.Rows, Row{
			ID:                 risk.ID,
			Domain:             risk.Domain,
			Name:               risk.Name,
			FailureClass:       class,
			PBase:              pBase,
			Severity:           severity,
			SeverityNorm:       sevNorm,
			FailureClassWeight: fcWeight,
			RPN:                pBase * severity,
			RiskScore:          score,
		})
	}
	return result
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if !finite(cfg.SeverityMax) || cfg.SeverityMax <= 0 {
		cfg.SeverityMax = def.SeverityMax
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	table := make(map[string]float64, len(def.FailureClassWeights)+len(cfg.FailureClassWeights))
	if len(cfg.FailureClassWeights) == 0 {
		for class, weight := range def.FailureClassWeights {
			table[class] = weight
		}
	}
	for class, weight := range cfg.FailureClassWeights {
		table[strings.ToUpper(class)] = weight
	}
	if _, ok := table[DefaultClass]; !ok {
		table[DefaultClass] = def.FailureClassWeights[DefaultClass]
	}
	cfg.FailureClassWeights = table
	return cfg
}

// Clamp bounds v to [lo, hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
