package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBrowseCmd(cfg *cliConfig) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "browse DEVICE_NAME SHARE_NAME SNAPSHOT_ID",
		Short: "List files in a snapshot at the given path",
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

			entries, err := application.orch.BrowseSnapshot(cmd.Context(), share.ID, args[2], path)
			if err != nil {
				return fmt.Errorf("failed to browse snapshot: %w", err)
			}
			for _, e := range entries {
				fmt.Printf("%s\t%s\t%d\t%s\n", e.Type, e.Path, e.Size, e.ModTime.Format("2006-01-02T15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "/", "Path within the snapshot to list")
	return cmd
}
