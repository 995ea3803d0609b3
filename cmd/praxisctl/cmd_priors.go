package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/bayes"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/logging"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/numeric"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/pipeline"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/schema"
)

func newPriorsCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "priors",
		Short: "Manage Beta priors",
	}
	cmd.AddCommand(newRollForwardCmd(global))
	cmd.AddCommand(newFromMeanCmd(global))
	return cmd
}

func newFromMeanCmd(global *globalFlags) *cobra.Command {
	var scenarioPath, outPath string
	var n0 float64
	cmd := &cobra.Command{
		Use:   "from-mean",
		Short: "Seed Beta priors from each risk's likelihood and an equivalent sample size",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			scenario, err := schema.LoadScenario(scenarioPath)
			if err != nil {
				return err
			}
			normalized := numeric.Normalize(scenario.Risks, cfg.Numeric)
			if len(normalized.Rows) == 0 {
				return fmt.Errorf("scenario %s: %w", scenarioPath, pipeline.ErrEmptyScenario)
			}
			logger := logging.New("praxisctl")
			for _, w := range normalized.Warnings {
				logger.Warn("risk row skipped", "reason", w)
			}

			priors := make(schema.Priors, len(normalized.Rows))
			for _, row := range normalized.Rows {
				prior := bayes.PriorFromMean(row.PBase, n0)
				priors[row.ID] = schema.PriorSpec{Alpha: &prior.Alpha, Beta: &prior.Beta}
			}
			if err := schema.WritePriors(outPath, priors); err != nil {
				return err
			}
			logger.Info("priors seeded", "risks", len(priors), "n0", n0, "out", outPath)
			fmt.Fprintf(cmd.OutOrStdout(), "ok: wrote %d priors to %s\n", len(priors), outPath)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&scenarioPath, "scenario", "", "Scenario file, YAML or JSON (required)")
	f.Float64Var(&n0, "n0", 10, "Equivalent sample size of each prior")
	f.StringVar(&outPath, "out", "", "Destination priors file (required)")
	_ = cmd.MarkFlagRequired("scenario")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newRollForwardCmd(global *globalFlags) *cobra.Command {
	var scenarioPath, priorsPath, outPath string
	cmd := &cobra.Command{
		Use:   "roll-forward",
		Short: "Update priors with a scenario's likelihoods and write the posteriors as the next priors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			scenario, err := schema.LoadScenario(scenarioPath)
			if err != nil {
				return err
			}
			priors, err := schema.LoadPriors(priorsPath)
			if err != nil {
				return err
			}

			pcfg := cfg.Pipeline()
			pcfg.MonteCarlo.Iterations = 0
			res, err := pipeline.New(pcfg).Run(cmd.Context(), scenario, priors)
			if err != nil {
				return fmt.Errorf("pipeline: %w", err)
			}
			next := bayes.RollForward(res.Bayes)
			if err := schema.WritePriors(outPath, next); err != nil {
				return err
			}
			logging.New("praxisctl").Info("priors rolled forward", "risks", len(next), "out", outPath)
			fmt.Fprintf(cmd.OutOrStdout(), "ok: wrote %d priors to %s\n", len(next), outPath)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&scenarioPath, "scenario", "", "Scenario file, YAML or JSON (required)")
	f.StringVar(&priorsPath, "priors", "", "Current priors file")
	f.StringVar(&outPath, "out", "", "Destination for the rolled-forward priors (required)")
	_ = cmd.MarkFlagRequired("scenario")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
