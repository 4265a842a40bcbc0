package cmd

import (
	"fmt"

	"github.com/codemachine-dev/codemachine/internal/engine"
	"github.com/codemachine-dev/codemachine/internal/logging"
	"github.com/codemachine-dev/codemachine/internal/types"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a previously started workflow from its persisted tracking state",
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

		resume := h.Index.GetResumeInfo()
		fmt.Fprintf(cmd.OutOrStdout(), "codemachine: resuming at step %d (%s), %d module steps total\n",
			resume.StartIndex, resume.Decision, len(tmpl.ModuleSteps()))

		if err := h.Runner.Recover(); err != nil {
			return err
		}
		return runToCompletion(cmd.Context(), h)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
