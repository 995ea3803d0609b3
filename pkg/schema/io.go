package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadScenario reads a YAML or JSON scenario file. Risks without a severity
// get the neutral severity 1.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario %s: %w", path, err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes scenario bytes. JSON input is accepted as YAML.
func ParseScenario(data []byte) (Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return Scenario{}, fmt.Errorf("unmarshal scenario: %w", err)
	}
	for i := range scenario.Risks {
		if scenario.Risks[i].Severity == 0 {
			scenario.Risks[i].Severity = 1
		}
	}
	for id, gate := range scenario.FaultTree.Gates {
		if gate.ID == "" {
			gate.ID = id
			scenario.FaultTree.Gates[id] = gate
		}
	}
	return scenario, nil
}

// LoadPriors reads a priors file mapping risk id to {alpha, beta}. A missing
// path yields an empty set, which resolves every risk to Beta(1,1).
func LoadPriors(path string) (Priors, error) {
	if path == "" {
		return Priors{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read priors %s: %w", path, err)
	}
	priors := Priors{}
	if err := yaml.Unmarshal(data, &priors); err != nil {
		return nil, fmt.Errorf("unmarshal priors %s: %w", path, err)
	}
	return priors, nil
}

// WritePriors writes priors as YAML.
func WritePriors(path string, priors Priors) error {
	data, err := yaml.Marshal(priors)
	if err != nil {
		return fmt.Errorf("marshal priors: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write priors %s: %w", path, err)
	}
	return nil
}
