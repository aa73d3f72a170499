package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var maxLogs int

	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Show an instance's container log tail",
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

			lines, err := a.controller.Logs(cmd.Context(), id, maxLogs)
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				return fmt.Errorf("no logs available for instance %d", id)
			}
			for _, line := range lines {
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxLogs, "max-logs", 30, "maximum number of log lines")
	return cmd
}
