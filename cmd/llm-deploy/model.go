package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/g1ibby/llm-deploy/internal/ollama"
	"github.com/g1ibby/llm-deploy/internal/render"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage models on instances",
	}
	cmd.AddCommand(
		newModelDeployCmd(),
		newModelRemoveCmd(),
		newModelLsCmd(),
	)
	return cmd
}

func newModelDeployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy <model> <instance-id>",
		Short: "Pull a model onto an instance and register it with the gateway",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstanceID(args[1])
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			return a.ops.Pull(cmd.Context(), args[0], id, func(ev ollama.ProgressEvent) {
				fmt.Print(render.PullProgress(ev))
			})
		},
	}
}

func newModelRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <model> <instance-id>",
		Aliases: []string{"rm"},
		Short:   "Deregister a model from the gateway and delete it from an instance",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstanceID(args[1])
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.ops.Remove(cmd.Context(), args[0], id); err != nil {
				return err
			}
			fmt.Printf("model %s removed from instance %d\n", args[0], id)
			return nil
		},
	}
}

func newModelLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List models across every instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := a.ops.List(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(render.Models(entries))
			return nil
		},
	}
}
