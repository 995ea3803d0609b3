package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validScenario() Scenario {
	k := 2
	return Scenario{
		ScenarioName: "grid",
		Risks: []Risk{
			{ID: "R_GRID", Domain: "Power", Name: "Grid loss", FailureClass: "CMF", Likelihood: 0.1, Severity: 4},
			{ID: "R_GAS", Domain: "Gas", Name: "Compressor trip", FailureClass: "SPF", Likelihood: 0.2, Severity: 3},
		},
		CCFGroups:    []CCFGroup{{GroupID: "CCF_POWER_GAS", BetaFactor: 0.3, Members: []string{"R_GRID", "R_GAS"}}},
		CascadeEdges: []Edge{{From: "R_GAS", To: "R_GRID", Weight: 0.25}},
		FaultTree: FaultTree{
			TopEvent: "TOP",
			Gates: map[string]Gate{
				"TOP": {Type: "k_of_n", Inputs: []string{"R_GRID", "R_GAS"}, K: &k},
			},
		},
	}
}

func TestValidateScenario(t *testing.T) {
	if err := ValidateScenario(validScenario()); err != nil {
		t.Fatalf("schema validation failed: %v", err)
	}
}

func TestValidateScenarioRejectsInvalid(t *testing.T) {
	cases := map[string]func(*Scenario){
		"no risks":          func(s *Scenario) { s.Risks = nil },
		"likelihood > 1":    func(s *Scenario) { s.Risks[0].Likelihood = 1.5 },
		"empty risk id":     func(s *Scenario) { s.Risks[1].ID = "" },
		"beta factor > 1":   func(s *Scenario) { s.CCFGroups[0].BetaFactor = 2 },
		"negative weight":   func(s *Scenario) { s.CascadeEdges[0].Weight = -0.1 },
		"unknown gate type": func(s *Scenario) { s.FaultTree.Gates["TOP"] = Gate{Type: "XOR", Inputs: []string{"R_GAS"}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			scenario := validScenario()
			mutate(&scenario)
			if err := ValidateScenario(scenario); err == nil {
				t.Fatal("expected validation failure")
			}
		})
	}
}

func TestValidateAgainstSchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edge.schema.json")
	schema := `{"type":"object","required":["from","to"],"properties":{"weight":{"type":"number","minimum":0}}}`
	if err := os.WriteFile(path, []byte(schema), 0o644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	if err := ValidateAgainstSchema(path, Edge{From: "A", To: "B", Weight: 0.2}); err != nil {
		t.Fatalf("schema validation failed: %v", err)
	}
	err := ValidateAgainstSchema(path, Edge{From: "A", To: "B", Weight: -1})
	if err == nil || !strings.Contains(err.Error(), "failed schema validation") {
		t.Fatalf("expected schema failure, got %v", err)
	}
}

func TestValidateAgainstSchemaMissingFile(t *testing.T) {
	if err := ValidateAgainstSchema(filepath.Join(t.TempDir(), "missing.json"), Edge{}); err == nil {
		t.Fatal("expected read error")
	}
}
