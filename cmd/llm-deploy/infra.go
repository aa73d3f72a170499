package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/g1ibby/llm-deploy/internal/render"
	"github.com/g1ibby/llm-deploy/internal/vast"
)

func newInfraCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "infra",
		Short: "Manage instances directly",
	}
	cmd.AddCommand(
		newInfraLsCmd(),
		newInfraInspectCmd(),
		newInfraCreateCmd(),
		newInfraDestroyCmd(),
	)
	return cmd
}

func parseInstanceID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid instance id %q", arg)
	}
	return id, nil
}

func newInfraLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			instances, err := a.controller.Instances(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(render.Instances(instances))
			return nil
		},
	}
}

func newInfraInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <id>",
		Short: "Show one instance, its endpoint, and its models",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstanceID(args[0])
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			inst, mdls, err := a.controller.InstanceByID(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Println(render.Instances([]vast.Instance{*inst}))
			fmt.Printf("endpoint: %s\n", inst.Endpoint)
			if len(mdls) > 0 {
				fmt.Println("models on this instance:")
				for _, m := range mdls {
					fmt.Printf("  %s, %.2f GB\n", m.Name, float64(m.Size)/1e9)
				}
			}
			return nil
		},
	}
}

func newInfraCreateCmd() *cobra.Command {
	var (
		offerID int64
		diskGB  float64
		access  string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision an instance from an offer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if offerID == 0 {
				return fmt.Errorf("--offer is required")
			}
			publicIP, err := parseAccess(access)
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			prov, err := a.controller.Provision(cmd.Context(), offerID, diskGB, publicIP)
			if err != nil {
				return err
			}
			fmt.Printf("instance %d ready at %s\n", prov.InstanceID, prov.Endpoint)
			return nil
		},
	}

	cmd.Flags().Int64Var(&offerID, "offer", 0, "offer id to rent")
	cmd.Flags().Float64Var(&diskGB, "disk", 70, "disk space in GB")
	cmd.Flags().StringVar(&access, "access", "ip", "access mode: ip (public IP) or cf (tunnel)")
	return cmd
}

func newInfraDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <id>",
		Short: "Destroy one instance and its gateway bindings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstanceID(args[0])
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.controller.Destroy(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("instance %d destroyed\n", id)
			return nil
		},
	}
}
