package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/arkeepbackup/backupd/internal/configstore"
)

func newShareCmd(cfg *cliConfig) *cobra.Command {
	root := &cobra.Command{
		Use:   "share",
		Short: "Manage configured shares",
	}
	root.AddCommand(newShareAddCmd(cfg))
	root.AddCommand(newShareListCmd(cfg))
	root.AddCommand(newShareRemoveCmd(cfg))
	root.AddCommand(newShareScheduleCmd(cfg))
	return root
}

func newShareAddCmd(cfg *cliConfig) *cobra.Command {
	var (
		path    string
		enabled bool
	)

	cmd := &cobra.Command{
		Use:   "add DEVICE_NAME SHARE_NAME",
		Short: "Add a share on a device",
		Args:  cobra.ExactArgs(2),
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

			now := time.Now().UTC()
			share := configstore.Share{
				ID:        uuid.NewString(),
				DeviceID:  device.ID,
				Name:      args[1],
				Path:      path,
				Enabled:   enabled,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := application.configStore.PutShare(device.Name, share, "add share via CLI"); err != nil {
				return fmt.Errorf("failed to save share: %w", err)
			}
			fmt.Printf("added share %q on %q (%s)\n", share.Name, device.Name, share.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Remote path on the device")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "Whether the share is enabled")
	cmd.MarkFlagRequired("path")

	return cmd
}

func newShareListCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [DEVICE_NAME]",
		Short: "List shares, optionally filtered by device",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			var shares []configstore.Share
			if len(args) == 1 {
				shares, err = application.configStore.ListShares(args[0])
			} else {
				shares, err = application.configStore.ListAllShares()
			}
			if err != nil {
				return err
			}
			for _, sh := range shares {
				fmt.Printf("%s\t%s\t%s\t%v\n", sh.ID, sh.Name, sh.Path, sh.Enabled)
			}
			return nil
		},
	}
}

func newShareRemoveCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "rm DEVICE_NAME SHARE_NAME",
		Short: "Remove a share",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			if err := application.configStore.DeleteShare(args[0], args[1]); err != nil {
				return fmt.Errorf("failed to remove share: %w", err)
			}
			fmt.Printf("removed share %q on %q\n", args[1], args[0])
			return nil
		},
	}
}

func newShareScheduleCmd(cfg *cliConfig) *cobra.Command {
	var (
		cron  string
		start string
		end   string
		clear bool
	)

	cmd := &cobra.Command{
		Use:   "schedule DEVICE_NAME SHARE_NAME",
		Short: "Set or clear a share's backup schedule",
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

			if clear {
				return application.sched.UnscheduleShareBackup(cmd.Context(), share.ID)
			}
			if cron == "" {
				return fmt.Errorf("--cron is required unless --clear is set")
			}

			device, err := application.configStore.GetDevice(args[0])
			if err != nil {
				return fmt.Errorf("failed to find device %q: %w", args[0], err)
			}
			schedule := configstore.Schedule{Cron: cron, Window: configstore.Window{Start: start, End: end}}
			if err := application.sched.ScheduleShareBackup(cmd.Context(), device.ID, share.ID, schedule); err != nil {
				return fmt.Errorf("failed to schedule share: %w", err)
			}
			fmt.Printf("scheduled %q/%q: %s\n", args[0], args[1], cron)
			return nil
		},
	}

	cmd.Flags().StringVar(&cron, "cron", "", "Six-field cron expression (with seconds)")
	cmd.Flags().StringVar(&start, "window-start", "", "Window start, e.g. 22:00")
	cmd.Flags().StringVar(&end, "window-end", "", "Window end, e.g. 06:00")
	cmd.Flags().BoolVar(&clear, "clear", false, "Clear the share's schedule")

	return cmd
}
