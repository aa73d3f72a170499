package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy",
		Short: "Destroy every managed instance and its gateway bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.controller.DestroyAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("all instances destroyed")
			return nil
		},
	}
}
