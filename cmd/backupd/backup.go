package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBackupCmd(cfg *cliConfig) *cobra.Command {
	var shareName string

	cmd := &cobra.Command{
		Use:   "backup DEVICE_NAME",
		Short: "Trigger an immediate backup of a device or one of its shares",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			device, err := application.configStore.GetDevice(args[0])
			if err != nil {
				return fmt.Errorf("failed to find device %q: %w", args[0], err)
			}

			shareID := ""
			if shareName != "" {
				share, err := application.configStore.GetShare(device.Name, shareName)
				if err != nil {
					return fmt.Errorf("failed to find share %q on %q: %w", shareName, device.Name, err)
				}
				shareID = share.ID
			}

			job, err := application.sched.TriggerImmediateBackup(cmd.Context(), device.ID, shareID)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			fmt.Printf("job %s: %s\n", job.ID, job.Status)
			if job.ErrorMessage != "" {
				fmt.Println(job.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&shareName, "share", "", "Limit the backup to a single share")
	return cmd
}
