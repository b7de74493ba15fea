package main

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"proofduck/internal/config"
)

// app is the state shared by every subcommand after flag parsing.
type app struct {
	configPath string
	cfg        config.Config
	log        zerolog.Logger
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	var logLevel, logFormat, dataDir string

	root := &cobra.Command{
		Use:           "proofduckd",
		Short:         "Local writing assistant daemon and model package tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", os.Getenv("PROOFDUCK_CONFIG"), "Config file (.yaml, .json or .toml)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	pf.StringVar(&logFormat, "log-format", "", "Log format: console|json (overrides config)")
	pf.StringVar(&dataDir, "data-dir", "", "Directory for the settings and content database (overrides config)")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(a.configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if logFormat != "" {
			cfg.LogFormat = logFormat
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		log, err := newLogger(cfg.LogLevel, cfg.LogFormat, a.stderr)
		if err != nil {
			return err
		}
		a.cfg = cfg
		a.log = log
		return nil
	}

	root.AddCommand(
		newServeCmd(a),
		newPackCmd(a),
		newUnpackCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newPromptCmd(a),
		newExtractCmd(a),
	)
	return root
}
