package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xingyang1991/nightfall/internal/config"
	"github.com/xingyang1991/nightfall/internal/logging"
)

const defaultConfigPath = "nightfall.yaml"

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	verbose    bool

	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "nightfall",
		Short: "Night-time skill orchestrator",
		Long: `nightfall routes short utterances to skills, runs them behind a
scoped tool bus and a policy chain, and emits surface messages for a
renderer to fold.

Configuration is read from nightfall.yaml (see "nightfall config init").
Environment overrides: NIGHTFALL_DB, NIGHTFALL_TOOL_MODE,
NIGHTFALL_LOG_LEVEL, NIGHTFALL_SKILLS_DIR, NIGHTFALL_AUDIT_CAPACITY and
GEMINI_API_KEY.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath, "Config file path")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		a.newRunCmd(),
		a.newSkillsCmd(),
		a.newToolsCmd(),
		a.newAuditCmd(),
		a.newConfigCmd(),
	)
	return root
}

// setup loads the configuration and builds the logger. Commands annotated
// with skipSetup manage the config file themselves.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[annotationSkipSetup] == "true" {
		return nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", a.configPath, err)
	}
	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg, a.logger, a.closeLog = cfg, logger, closeLog
	return nil
}

func (a *app) teardown() error {
	if a.closeLog == nil {
		return nil
	}
	err := a.closeLog()
	a.closeLog = nil
	return err
}

const annotationSkipSetup = "nightfall/skip-setup"
