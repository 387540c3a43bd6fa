package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSnapshotsCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots DEVICE_NAME SHARE_NAME",
		Short: "List snapshots recorded for a share",
		Args:  cobra.ExactArgs(2),
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

			backups, err := application.orch.ListSnapshots(cmd.Context(), share.ID)
			if err != nil {
				return fmt.Errorf("failed to list snapshots: %w", err)
			}
			for _, b := range backups {
				fmt.Printf("%s\t%s\t%s\t%d files\t%d bytes\n", b.ID, b.Timestamp.Format("2006-01-02T15:04:05"), b.Status, b.NewFiles+b.ChangedFiles, b.BytesAdded)
			}
			return nil
		},
	}
}
