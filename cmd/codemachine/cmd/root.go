// Package cmd is the cobra CLI surface for the workflow engine: a thin
// run/status/resume command surface over internal/engine so the engine
// is invokable from a terminal, one subcommand per file with a shared
// root and persistent flags.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	workDir      string
	templatePath string
	specPath     string
	track        string
	conditions   []string
	autoMode     bool
)

var rootCmd = &cobra.Command{
	Use:           "codemachine",
	Short:         "CodeMachine workflow engine",
	Long:          `CodeMachine drives a template of agent-engine invocations to completion, across process crashes, pauses, and authentication failures.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "C", "", "working directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&templatePath, "template", "", "path to the workflow template (default: <workdir>/.codemachine/template.source.json)")
	rootCmd.PersistentFlags().StringVar(&specPath, "spec", "", "path to the specification file (default: <workdir>/spec.md)")
	rootCmd.PersistentFlags().StringVar(&track, "track", "", "selected track")
	rootCmd.PersistentFlags().StringArrayVar(&conditions, "condition", nil, "selected condition (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&autoMode, "auto", false, "start in autonomous mode")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("codemachine {{.Version}}\n")
}
