package schema

// Risk is one elementary risk row of a scenario. ID is stable across every
// pipeline stage.
type Risk struct {
	ID           string  `json:"id" yaml:"id"`
	Domain       string  `json:"domain,omitempty" yaml:"domain,omitempty"`
	Name         string  `json:"name,omitempty" yaml:"name,omitempty"`
	FailureClass string  `json:"failure_class,omitempty" yaml:"failure_class,omitempty"`
	Likelihood   float64 `json:"likelihood" yaml:"likelihood"`
	Severity     float64 `json:"severity" yaml:"severity"`
}

// CCFGroup declares a common-cause failure group.
type CCFGroup struct {
	GroupID     string   `json:"group_id" yaml:"group_id"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	BetaFactor  float64  `json:"beta_factor" yaml:"beta_factor"`
	Members     []string `json:"members" yaml:"members"`
}

// Edge is one weighted influence from one risk onto another.
type Edge struct {
	From   string  `json:"from" yaml:"from"`
	To     string  `json:"to" yaml:"to"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// Gate is a Boolean-probabilistic combinator over child node ids. Type is
// kept as the raw token; ParseGateType interprets it.
type Gate struct {
	ID     string   `json:"id,omitempty" yaml:"id,omitempty"`
	Type   string   `json:"type" yaml:"type"`
	Inputs []string `json:"inputs" yaml:"inputs"`
	K      *int     `json:"k,omitempty" yaml:"k,omitempty"`
}

// FaultTree maps gate ids to gates below a single top event.
type FaultTree struct {
	TopEvent string          `json:"top_event" yaml:"top_event"`
	Gates    map[string]Gate `json:"gates" yaml:"gates"`
}

// Scenario is the core input contract.
type Scenario struct {
	ScenarioName string     `json:"scenario_name" yaml:"scenario_name"`
	Risks        []Risk     `json:"risks" yaml:"risks"`
	CCFGroups    []CCFGroup `json:"ccf_groups,omitempty" yaml:"ccf_groups,omitempty"`
	CascadeEdges []Edge     `json:"cascade_edges,omitempty" yaml:"cascade_edges,omitempty"`
	FaultTree    FaultTree  `json:"fault_tree" yaml:"fault_tree"`
}

// BetaParams is a pair of Beta distribution hyperparameters.
type BetaParams struct {
	Alpha float64 `json:"alpha" yaml:"alpha"`
	Beta  float64 `json:"beta" yaml:"beta"`
}

// PriorSpec is one priors-file entry. Either the top-level alpha/beta pair
// or the nested prior block is used.
type PriorSpec struct {
	Alpha *float64    `json:"alpha,omitempty" yaml:"alpha,omitempty"`
	Beta  *float64    `json:"beta,omitempty" yaml:"beta,omitempty"`
	Prior *BetaParams `json:"prior,omitempty" yaml:"prior,omitempty"`
}

// Priors maps risk id to its prior.
type Priors map[string]PriorSpec

// RiskIndex returns risks keyed by id. Later duplicates win.
func (s Scenario) RiskIndex() map[string]Risk {
	out := make(map[string]Risk, len(s.Risks))
	for _, risk := range s.Risks {
		out[risk.ID] = risk
	}
	return out
}

// Clone returns a deep copy that shares no slices or maps with s.
func (s Scenario) Clone() Scenario {
	out := Scenario{
		ScenarioName: s.ScenarioName,
		Risks:        append([]Risk(nil), s.Risks...),
		CascadeEdges: append([]Edge(nil), s.CascadeEdges...),
		FaultTree:    s.FaultTree.Clone(),
	}
	if s.CCFGroups != nil {
		out.CCFGroups = make([]CCFGroup, len(s.CCFGroups))
		for i, group := range s.CCFGroups {
			group.Members = append([]string(nil), group.Members...)
			out.CCFGroups[i] = group
		}
	}
	return out
}

// Clone returns a deep copy of the tree.
func (t FaultTree) Clone() FaultTree {
	out := FaultTree{TopEvent: t.TopEvent}
	if t.Gates == nil {
		return out
	}
	out.Gates = make(map[string]Gate, len(t.Gates))
	for id, gate := range t.Gates {
		gate.Inputs = append([]string(nil), gate.Inputs...)
		if gate.K != nil {
			k := *gate.K
			gate.K = &k
		}
		out.Gates[id] = gate
	}
	return out
}
