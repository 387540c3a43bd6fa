package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			if err := application.sched.CancelJob(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to cancel job: %w", err)
			}
			fmt.Printf("cancelled job %s\n", args[0])
			return nil
		},
	}
}
