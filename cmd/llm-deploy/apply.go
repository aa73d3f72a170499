package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/g1ibby/llm-deploy/internal/config"
	"github.com/g1ibby/llm-deploy/internal/deploy"
	"github.com/g1ibby/llm-deploy/internal/ollama"
	"github.com/g1ibby/llm-deploy/internal/render"
)

func newApplyCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Deploy every model declared in llms.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Declarative mode is selected by the config file existing;
			// the decision is made once, here, and holds for the whole
			// invocation.
			if _, err := os.Stat(configPath); err != nil {
				return fmt.Errorf("declarative mode needs %s: %w", configPath, err)
			}

			desired, err := config.LoadDesiredModels(configPath)
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			applier := deploy.NewApplier(a.alloc, a.controller, a.ops, func(ev ollama.ProgressEvent) {
				fmt.Print(render.PullProgress(ev))
			}, a.logger)

			summary, err := applier.Apply(cmd.Context(), desired)
			if summary != nil {
				for _, m := range summary.Unplaced {
					fmt.Printf("could not place %s (%s): no suitable machine\n", m.Name, m.Model)
				}
				for _, d := range summary.Deployed {
					fmt.Printf("instance %d ready at %s (%d models)\n", d.InstanceID, d.Endpoint, len(d.Models))
				}
			}
			if err != nil {
				return err
			}
			if len(summary.Unplaced) > 0 {
				return fmt.Errorf("%d model(s) could not be placed", len(summary.Unplaced))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "llms.yaml", "path to the desired-models file")
	return cmd
}
