package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRestoreCmd(cfg *cliConfig) *cobra.Command {
	var includePaths []string

	cmd := &cobra.Command{
		Use:   "restore DEVICE_NAME SHARE_NAME SNAPSHOT_ID",
		Short: "Restore a snapshot to the configured restore root",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			share, err := application.configStore.GetShare(args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to find share: %w", err)
			}

			target, err := application.orch.RestoreSnapshot(cmd.Context(), share.ID, args[2], includePaths)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Printf("restored to %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&includePaths, "include", nil, "Limit the restore to these paths (repeatable)")
	return cmd
}
