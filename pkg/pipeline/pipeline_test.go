package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/faulttree"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/schema"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/telemetry"
)

func sampleScenario() schema.Scenario {
	return schema.Scenario{
		ScenarioName: "grid-gas",
		Risks: []schema.Risk{
			{ID: "R_GRID", Domain: "Power", FailureClass: "CMF", Likelihood: 0.1, Severity: 4},
			{ID: "R_GAS", Domain: "Gas", FailureClass: "SPF", Likelihood: 0.2, Severity: 3},
			{ID: "R_CYBER", Domain: "IT", FailureClass: "CYBER", Likelihood: 0.05, Severity: 5},
		},
		CCFGroups:    []schema.CCFGroup{{GroupID: "CCF_ENERGY", BetaFactor: 0.3, Members: []string{"R_GRID", "R_GAS"}}},
		CascadeEdges: []schema.Edge{{From: "R_GAS", To: "R_GRID", Weight: 0.25}},
		FaultTree: schema.FaultTree{
			TopEvent: "TOP",
			Gates: map[string]schema.Gate{
				"TOP":      {Type: "OR", Inputs: []string{"G_ENERGY", "R_CYBER"}},
				"G_ENERGY": {Type: "AND", Inputs: []string{"R_GRID", "R_GAS"}},
			},
		},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MonteCarlo = faulttree.MCConfig{Iterations: 2000, Seed: 11, Workers: 2}
	return cfg
}

func TestRunProducesConsistentStages(t *testing.T) {
	res, err := New(testConfig()).Run(context.Background(), sampleScenario(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := uuid.Parse(res.RunID); err != nil {
		t.Fatalf("run id is not a uuid: %q", res.RunID)
	}
	if res.ConfigVersion != Version || res.ScenarioName != "grid-gas" {
		t.Fatalf("unexpected header: %+v", res)
	}

	// Flat prior with n=5: (1 + 5p) / 7.
	wantPost := (1 + 5*0.1) / 7
	if math.Abs(res.Bayes.PosteriorProbs["R_GRID"]-wantPost) > 1e-12 {
		t.Fatalf("posterior = %f, want %f", res.Bayes.PosteriorProbs["R_GRID"], wantPost)
	}

	final := res.Cascade.FinalProbs
	wantTop := 1 - (1-final["R_GRID"]*final["R_GAS"])*(1-final["R_CYBER"])
	if math.Abs(res.FaultTreeAnalytic.PTop-wantTop) > 1e-12 {
		t.Fatalf("p_top = %f, want %f", res.FaultTreeAnalytic.PTop, wantTop)
	}
	if math.Abs(res.Reliability.Reliability-(1-wantTop)) > 1e-12 {
		t.Fatalf("reliability = %f", res.Reliability.Reliability)
	}
	if res.FaultTreeMC.Iterations != 2000 {
		t.Fatalf("mc iterations = %d", res.FaultTreeMC.Iterations)
	}
	if len(res.Diagnostics.Stages) != 7 || res.Diagnostics.Degraded() {
		t.Fatalf("unexpected diagnostics: %+v", res.Diagnostics)
	}
	if len(res.Diagnostics.Defaults) != 3 {
		t.Fatalf("expected three prior defaults, got %+v", res.Diagnostics.Defaults)
	}
}

func TestRunEmptyScenario(t *testing.T) {
	_, err := New(testConfig()).Run(context.Background(), schema.Scenario{ScenarioName: "empty"}, nil)
	if !errors.Is(err, ErrEmptyScenario) {
		t.Fatalf("expected ErrEmptyScenario, got %v", err)
	}

	malformed := schema.Scenario{Risks: []schema.Risk{{ID: "", Likelihood: 0.1}}}
	_, err = New(testConfig()).Run(context.Background(), malformed, nil)
	if !errors.Is(err, ErrEmptyScenario) {
		t.Fatalf("expected ErrEmptyScenario for all-malformed rows, got %v", err)
	}
}

func cyclicScenario() schema.Scenario {
	s := sampleScenario()
	s.FaultTree.Gates["G_ENERGY"] = schema.Gate{Type: "AND", Inputs: []string{"R_GRID", "TOP"}}
	return s
}

func TestRunDegradesOnCycle(t *testing.T) {
	metrics := telemetry.NewMetrics()
	res, err := New(testConfig(), WithMetrics(metrics)).Run(context.Background(), cyclicScenario(), nil)
	if err != nil {
		t.Fatalf("degraded run should not fail: %v", err)
	}
	if !res.Diagnostics.Degraded() {
		t.Fatal("expected degraded diagnostics")
	}
	if res.FaultTreeAnalytic.PTop != 0 || res.Reliability.Reliability != 1 {
		t.Fatalf("degraded fault tree should report p_top 0: %+v", res.FaultTreeAnalytic)
	}
	if len(res.Diagnostics.Warnings) == 0 {
		t.Fatal("expected a recorded warning")
	}
	if n, err := testutil.GatherAndCount(metrics.Registry(), "praxis_stage_degraded_total"); err != nil || n != 2 {
		t.Fatalf("expected degraded analytic and mc series, got %d (%v)", n, err)
	}
}

func TestRunStrictRejectsCycle(t *testing.T) {
	cfg := testConfig()
	cfg.Strict = true
	_, err := New(cfg).Run(context.Background(), cyclicScenario(), nil)
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageAnalytic {
		t.Fatalf("expected analytic StageError, got %v", err)
	}
	if !errors.Is(err, schema.ErrCycle) {
		t.Fatalf("expected ErrCycle in chain, got %v", err)
	}
}

func TestRunStrictRejectsSilentDefaults(t *testing.T) {
	cases := map[string]func(*schema.Scenario){
		"unknown gate type": func(s *schema.Scenario) {
			s.FaultTree.Gates["TOP"] = schema.Gate{Type: "XOR", Inputs: []string{"R_CYBER"}}
		},
		"unresolved node": func(s *schema.Scenario) {
			s.FaultTree.Gates["TOP"] = schema.Gate{Type: "OR", Inputs: []string{"GHOST"}}
		},
		"unknown ccf member": func(s *schema.Scenario) {
			s.CCFGroups[0].Members = append(s.CCFGroups[0].Members, "GHOST")
		},
		"unknown edge endpoint": func(s *schema.Scenario) {
			s.CascadeEdges = append(s.CascadeEdges, schema.Edge{From: "GHOST", To: "R_GAS", Weight: 0.1})
		},
		"malformed row": func(s *schema.Scenario) {
			s.Risks = append(s.Risks, schema.Risk{ID: "", Likelihood: 0.1})
		},
	}
	cfg := testConfig()
	cfg.Strict = true
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			scenario := sampleScenario()
			mutate(&scenario)
			_, err := New(cfg).Run(context.Background(), scenario, nil)
			if !errors.Is(err, ErrStrict) {
				t.Fatalf("expected ErrStrict, got %v", err)
			}
		})
	}

	// The same scenarios pass in default mode.
	for name, mutate := range cases {
		scenario := sampleScenario()
		mutate(&scenario)
		if _, err := New(testConfig()).Run(context.Background(), scenario, nil); err != nil {
			t.Fatalf("%s: default mode should degrade, got %v", name, err)
		}
	}
}

func TestRunReportsUndeclaredReferencedRisks(t *testing.T) {
	scenario := sampleScenario()
	scenario.CCFGroups[0].Members = append(scenario.CCFGroups[0].Members, "GHOST_PUMP", "GHOST_PUMP")
	scenario.CascadeEdges = append(scenario.CascadeEdges, schema.Edge{From: "GHOST_LINK", To: "R_GAS", Weight: 0.1})

	res, err := New(testConfig()).Run(context.Background(), scenario, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var risks []string
	for _, d := range res.Diagnostics.Defaults {
		if d.Kind == schema.KindRisk {
			risks = append(risks, d.Key)
		}
	}
	if diff := cmp.Diff([]string{"GHOST_LINK", "GHOST_PUMP"}, risks); diff != "" {
		t.Fatalf("risk defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestRunUnknownGateTypeInStrictMode(t *testing.T) {
	cfg := testConfig()
	cfg.Strict = true
	scenario := sampleScenario()
	scenario.FaultTree.Gates["TOP"] = schema.Gate{Type: "NAND", Inputs: []string{"R_CYBER"}}
	_, err := New(cfg).Run(context.Background(), scenario, nil)
	if !errors.Is(err, schema.ErrUnknownGateType) {
		t.Fatalf("expected ErrUnknownGateType, got %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(testConfig()).Run(ctx, sampleScenario(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunRecordsMetrics(t *testing.T) {
	metrics := telemetry.NewMetrics()
	if _, err := New(testConfig(), WithMetrics(metrics)).Run(context.Background(), sampleScenario(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n, err := testutil.GatherAndCount(metrics.Registry(), "praxis_pipeline_runs_total"); err != nil || n != 1 {
		t.Fatalf("expected one runs_total series, got %d (%v)", n, err)
	}
}

func TestRunProbabilityBoundsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)
	cfg := testConfig()
	cfg.MonteCarlo.Iterations = 200
	runner := New(cfg)

	properties.Property("every stage emits probabilities in [0,1]", prop.ForAll(
		func(pGrid, pGas, pCyber, beta, weight float64) bool {
			scenario := sampleScenario()
			scenario.Risks[0].Likelihood = pGrid
			scenario.Risks[1].Likelihood = pGas
			scenario.Risks[2].Likelihood = pCyber
			scenario.CCFGroups[0].BetaFactor = beta
			scenario.CascadeEdges[0].Weight = weight

			res, err := runner.Run(context.Background(), scenario, nil)
			if err != nil {
				return false
			}
			for _, row := range res.Numeric.Rows {
				if row.PBase < 1e-5 || row.PBase > 0.99999 {
					return false
				}
			}
			for _, probs := range []map[string]float64{res.Bayes.PosteriorProbs, res.CCF.Probs, res.Cascade.FinalProbs, res.FaultTreeAnalytic.GateOutputs} {
				for _, p := range probs {
					if p < 0 || p > 1 {
						return false
					}
				}
			}
			mc := res.FaultTreeMC
			return res.FaultTreeAnalytic.PTop >= 0 && res.FaultTreeAnalytic.PTop <= 1 &&
				mc.CI95[0] >= 0 && mc.CI95[1] <= 1
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 3),
	))

	properties.TestingRun(t)
}
