package cmd

import (
	"fmt"

	"github.com/codemachine-dev/codemachine/internal/engine"
	"github.com/codemachine-dev/codemachine/internal/logging"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the resume decision and per-step completion state",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := engine.Options{
			Cwd:                workDir,
			TemplatePath:       templatePath,
			SpecificationPath:  specPath,
			SkipSpecCheck:      true,
			SelectedTrack:      track,
			SelectedConditions: conditions,
			Logger:             logging.NewDefault(),
		}

		h, tmpl, err := engine.Build(opts)
		if err != nil {
			return err
		}

		resume := h.Index.GetResumeInfo()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "resume decision: %s (start index %d)\n", resume.Decision, resume.StartIndex)

		snap := h.Index.Snapshot()
		fmt.Fprintf(out, "active template: %s\n", snap.ActiveTemplate)
		fmt.Fprintf(out, "last updated: %s\n", snap.LastUpdated.Format("2006-01-02T15:04:05Z07:00"))

		for _, step := range tmpl.ModuleSteps() {
			data := h.Index.GetStepData(step.ModuleIndex)
			status := "pending"
			switch {
			case data.IsCompleted():
				status = "completed"
			case data.IsChainPartial():
				status = fmt.Sprintf("chain-partial (through chain %d)", data.MaxCompletedChain())
			case data != nil:
				status = "started"
			}
			fmt.Fprintf(out, "  [%d] %s: %s\n", step.ModuleIndex, step.Name, status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
