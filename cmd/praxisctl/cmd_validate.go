package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/schema"
)

func newValidateCmd() *cobra.Command {
	var scenarioPath, extraSchema string
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a scenario against the v1 contract and its fault tree for cycles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, scenarioPath, extraSchema, strict)
		},
	}
	f := cmd.Flags()
	f.StringVar(&scenarioPath, "scenario", "", "Scenario file, YAML or JSON (required)")
	f.StringVar(&extraSchema, "schema", "", "Additional JSON schema the scenario must satisfy, e.g. site policy")
	f.BoolVar(&strict, "strict", false, "Treat unresolved fault-tree nodes as failures")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func runValidate(cmd *cobra.Command, scenarioPath, extraSchema string, strict bool) error {
	out := cmd.OutOrStdout()
	scenario, err := schema.LoadScenario(scenarioPath)
	if err != nil {
		return err
	}
	if err := schema.ValidateScenario(scenario); err != nil {
		return fmt.Errorf("scenario schema: %w", err)
	}
	fmt.Fprintf(out, "ok: scenario schema (%d risks)\n", len(scenario.Risks))
	if extraSchema != "" {
		if err := schema.ValidateAgainstSchema(extraSchema, scenario); err != nil {
			return fmt.Errorf("schema %s: %w", extraSchema, err)
		}
		fmt.Fprintf(out, "ok: %s\n", extraSchema)
	}

	basic := make(map[string]struct{}, len(scenario.Risks))
	for _, risk := range scenario.Risks {
		basic[risk.ID] = struct{}{}
	}
	report, err := schema.ValidateFaultTree(scenario.FaultTree, basic)
	if err != nil {
		return fmt.Errorf("fault tree: %w", err)
	}
	for _, id := range report.Unresolved {
		if strict {
			return fmt.Errorf("fault tree: node %q is neither a gate nor a risk", id)
		}
		fmt.Fprintf(out, "warn: node %q is neither a gate nor a risk, evaluated as 0\n", id)
	}
	fmt.Fprintf(out, "ok: fault tree (%d gates)\n", len(report.Order))
	return nil
}
