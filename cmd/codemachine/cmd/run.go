package cmd

import (
	"context"
	"fmt"

	"github.com/codemachine-dev/codemachine/internal/engine"
	"github.com/codemachine-dev/codemachine/internal/logging"
	"github.com/codemachine-dev/codemachine/internal/types"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the workflow template to completion",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := engine.Options{
			Cwd:                workDir,
			TemplatePath:       templatePath,
			SpecificationPath:  specPath,
			SelectedTrack:      track,
			SelectedConditions: conditions,
			AutoMode:           autoMode,
			Logger:             logging.NewDefault(),
		}

		h, tmpl, err := engine.Build(opts)
		if err != nil {
			return err
		}

		unsubscribe := h.Bus.Subscribe(func(ev types.Event) {
			printEvent(cmd, ev)
		})
		defer unsubscribe()

		fmt.Fprintf(cmd.OutOrStdout(), "codemachine: starting workflow (%d module steps)\n", len(tmpl.ModuleSteps()))

		if err := h.Runner.Recover(); err != nil {
			return err
		}
		return runToCompletion(cmd.Context(), h)
	},
}

func runToCompletion(ctx context.Context, h *engine.Handle) error {
	if h.Runner.State() == "idle" {
		if err := h.Runner.Start(); err != nil {
			return err
		}
	}
	return h.Runner.Run(ctx)
}

func printEvent(cmd *cobra.Command, ev types.Event) {
	fmt.Fprintf(cmd.OutOrStdout(), "[%s] step=%d %+v\n", ev.Kind, ev.ModuleIndex, ev.Payload)
}

func init() {
	rootCmd.AddCommand(runCmd)
}
