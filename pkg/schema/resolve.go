package schema

import (
	"errors"
	"math"
	"strings"
)

// ErrUnknownGateType marks a gate type token outside OR/AND/KOFN.
var ErrUnknownGateType = errors.New("unknown gate type")

// Resolution is the tagged result of a lookup that falls back to a default.
// Found is false when Value is the fallback; Reason says why.
type Resolution[T any] struct {
	Value  T
	Found  bool
	Reason string
}

// AppliedDefault records one fallback that was silently applied.
type AppliedDefault struct {
	Kind   string `json:"kind"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Resolution kinds reported in AppliedDefault.Kind.
const (
	KindPrior    = "prior"
	KindGate     = "gate"
	KindGateType = "gate_type"
	KindGateK    = "gate_k"
	KindRisk     = "risk"
	KindSeverity = "severity"
)

// Applied returns the AppliedDefault for a defaulted resolution.
func (r Resolution[T]) Applied(kind, key string) (AppliedDefault, bool) {
	if r.Found {
		return AppliedDefault{}, false
	}
	return AppliedDefault{Kind: kind, Key: key, Reason: r.Reason}, true
}

// DefaultPrior is the flat Beta(1,1) prior.
var DefaultPrior = BetaParams{Alpha: 1, Beta: 1}

// ResolvePrior looks up the prior for a risk id, accepting either the flat
// alpha/beta form or the nested prior block.
func ResolvePrior(priors Priors, riskID string) Resolution[BetaParams] {
	spec, ok := priors[riskID]
	if !ok {
		return Resolution[BetaParams]{Value: DefaultPrior, Reason: "no prior declared"}
	}

	var params BetaParams
	switch {
	case spec.Alpha != nil && spec.Beta != nil:
		params = BetaParams{Alpha: *spec.Alpha, Beta: *spec.Beta}
	case spec.Prior != nil:
		params = *spec.Prior
	default:
		return Resolution[BetaParams]{Value: DefaultPrior, Reason: "prior missing alpha or beta"}
	}

	if !validHyper(params.Alpha) || !validHyper(params.Beta) {
		return Resolution[BetaParams]{Value: DefaultPrior, Reason: "prior hyperparameters must be finite and > 0"}
	}
	return Resolution[BetaParams]{Value: params, Found: true}
}

func validHyper(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// ResolveRisk looks up a risk by id in an index built by Scenario.RiskIndex.
func ResolveRisk(index map[string]Risk, riskID string) Resolution[Risk] {
	risk, ok := index[riskID]
	if !ok {
		return Resolution[Risk]{Value: Risk{ID: riskID, Severity: 1}, Reason: "risk not declared in scenario"}
	}
	return Resolution[Risk]{Value: risk, Found: true}
}

// GateType enumerates the supported gate combinators.
type GateType string

const (
	GateOR   GateType = "OR"
	GateAND  GateType = "AND"
	GateKOfN GateType = "KOFN"
)

// ParseGateType interprets a case-insensitive gate token. Unknown tokens
// report false and map to OR.
func ParseGateType(token string) (GateType, bool) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "OR", "":
		return GateOR, true
	case "AND":
		return GateAND, true
	case "KOFN", "K_OF_N", "K-OF-N":
		return GateKOfN, true
	default:
		return GateOR, false
	}
}

// ResolveGate looks up a gate by node id.
func ResolveGate(tree FaultTree, nodeID string) Resolution[Gate] {
	gate, ok := tree.Gates[nodeID]
	if !ok {
		return Resolution[Gate]{Reason: "node is neither a basic event nor a gate"}
	}
	if gate.ID == "" {
		gate.ID = nodeID
	}
	return Resolution[Gate]{Value: gate, Found: true}
}

// ResolveGateType parses the gate's type token, falling back to OR.
func ResolveGateType(gate Gate) Resolution[GateType] {
	gateType, ok := ParseGateType(gate.Type)
	if !ok {
		return Resolution[GateType]{Value: GateOR, Reason: "unknown gate type " + gate.Type + ", treated as OR"}
	}
	return Resolution[GateType]{Value: gateType, Found: true}
}

// ResolveK returns the KOFN threshold, defaulting to 1 (OR semantics).
func ResolveK(gate Gate) Resolution[int] {
	if gate.K == nil {
		return Resolution[int]{Value: 1, Reason: "k not set, defaulting to 1"}
	}
	return Resolution[int]{Value: *gate.K, Found: true}
}
