package main

import (
	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/logging"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/praxiscfg"
)

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	var global globalFlags

	root := &cobra.Command{
		Use:   "praxisctl",
		Short: "Probabilistic risk assessment over fault trees",
		Long:  "praxisctl propagates risk likelihoods through Bayesian update, common-cause\ngrouping and cascades into a fault tree, then stresses the result with\nsensitivity sweeps and adversarial twins.",
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		SilenceUsage: true,
		Version:      version,
	}

	f := root.PersistentFlags()
	f.StringVar(&global.configPath, "config", "", "Engine config file (YAML)")
	f.StringVar(&global.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	f.StringVar(&global.logFormat, "log-format", "", "Log format: text|json (overrides config)")

	root.AddCommand(newRunCmd(&global))
	root.AddCommand(newValidateCmd())
	root.AddCommand(newPriorsCmd(&global))
	return root
}

// loadConfig reads the engine config and applies the global overrides,
// then installs the process logger.
func loadConfig(cmd *cobra.Command, global *globalFlags) (praxiscfg.EngineConfig, error) {
	cfg, err := praxiscfg.Load(global.configPath)
	if err != nil {
		return cfg, err
	}
	if global.logLevel != "" {
		cfg.Logging.Level = global.logLevel
	}
	if global.logFormat != "" {
		cfg.Logging.Format = global.logFormat
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return cfg, err
	}
	logging.Init(level, cfg.Logging.Format, cmd.ErrOrStderr())
	return cfg, nil
}
