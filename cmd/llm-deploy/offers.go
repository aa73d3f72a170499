package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/g1ibby/llm-deploy/internal/render"
	"github.com/g1ibby/llm-deploy/internal/vast"
)

func newOffersCmd() *cobra.Command {
	var (
		gpuMemoryGB float64
		diskGB      float64
		access      string
	)

	cmd := &cobra.Command{
		Use:   "offers",
		Short: "Browse rentable GPU offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			publicIP, err := parseAccess(access)
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			offers, err := a.market.QueryOffers(cmd.Context(), vast.OfferFilter{
				GPURAMMB: gpuMemoryGB * 1024,
				DiskGB:   diskGB,
				PublicIP: publicIP,
			})
			if err != nil {
				return err
			}

			fmt.Println(render.Offers(offers))
			return nil
		},
	}

	cmd.Flags().Float64Var(&gpuMemoryGB, "gpu-memory", 1.0, "minimum GPU memory in GB")
	cmd.Flags().Float64Var(&diskGB, "disk", 40, "minimum disk space in GB")
	cmd.Flags().StringVar(&access, "access", "ip", "access mode: ip (public IP) or cf (tunnel)")
	return cmd
}
