package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/g1ibby/llm-deploy/internal/ollama"
	"github.com/g1ibby/llm-deploy/internal/render"
	"github.com/g1ibby/llm-deploy/internal/vast"
)

func newRunCmd() *cobra.Command {
	var (
		gpuMemoryGB float64
		diskGB      float64
		access      string
		offerID     int64
	)

	cmd := &cobra.Command{
		Use:   "run <model>",
		Short: "Provision one instance, pull a model onto it, and test it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := args[0]
			publicIP, err := parseAccess(access)
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			if gpuMemoryGB == 0 {
				size, err := a.oracle.SizeGB(ctx, model)
				if err != nil {
					return fmt.Errorf("size %s (pass --gpu-memory to override): %w", model, err)
				}
				gpuMemoryGB = size
			}
			fmt.Printf("running %s with %.1f GB of GPU memory, %.0f GB disk, access %s\n",
				model, gpuMemoryGB, diskGB, access)

			offers, err := a.market.QueryOffers(ctx, vast.OfferFilter{
				GPURAMMB: gpuMemoryGB * 1024,
				DiskGB:   diskGB,
				PublicIP: publicIP,
			})
			if err != nil {
				return err
			}
			if len(offers) == 0 {
				return fmt.Errorf("no offers match %.1f GB of GPU memory", gpuMemoryGB)
			}
			fmt.Println(render.Offers(offers))

			chosen := offers[0]
			if offerID != 0 {
				found := false
				for _, o := range offers {
					if o.ID == offerID {
						chosen, found = o, true
						break
					}
				}
				if !found {
					return fmt.Errorf("offer %d is not in the result set", offerID)
				}
			}
			fmt.Printf("using offer %d\n", chosen.ID)

			prov, err := a.controller.Provision(ctx, chosen.ID, diskGB, publicIP)
			if err != nil {
				return err
			}

			err = a.ops.Pull(ctx, model, prov.InstanceID, func(ev ollama.ProgressEvent) {
				fmt.Print(render.PullProgress(ev))
			})
			if err != nil {
				if derr := a.controller.Destroy(ctx, prov.InstanceID); derr != nil {
					a.logger.Error("cleanup destroy failed", zap.Error(derr))
				}
				return err
			}

			fmt.Printf("testing model %s\n", model)
			ok, err := ollama.NewClient(prov.Endpoint, a.logger).Test(ctx, model)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("model %s did not answer the test prompt", model)
			}
			fmt.Printf("model %s is serving at %s (instance %d)\n", model, prov.Endpoint, prov.InstanceID)
			return nil
		},
	}

	cmd.Flags().Float64Var(&gpuMemoryGB, "gpu-memory", 0, "GPU memory in GB (default: resolved from the model)")
	cmd.Flags().Float64Var(&diskGB, "disk", 70, "disk space in GB")
	cmd.Flags().StringVar(&access, "access", "ip", "access mode: ip (public IP) or cf (tunnel)")
	cmd.Flags().Int64Var(&offerID, "offer", 0, "offer id to use (default: cheapest match)")
	return cmd
}
