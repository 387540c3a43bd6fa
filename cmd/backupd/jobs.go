package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arkeepbackup/backupd/internal/jobsink"
)

func newJobsCmd(cfg *cliConfig) *cobra.Command {
	root := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and retry backup jobs",
	}
	root.AddCommand(newJobsListCmd(cfg))
	root.AddCommand(newJobsRetryCmd(cfg))
	return root
}

func newJobsListCmd(cfg *cliConfig) *cobra.Command {
	var (
		deviceName string
		limit      int
		offset     int
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			deviceID := ""
			if deviceName != "" {
				device, err := application.configStore.GetDevice(deviceName)
				if err != nil {
					return fmt.Errorf("failed to find device %q: %w", deviceName, err)
				}
				deviceID = device.ID
			}

			jobs, total, err := application.jobsRepo.ListJobs(cmd.Context(), deviceID, jobsink.ListOptions{Limit: limit, Offset: offset})
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}
			for _, j := range jobs {
				fmt.Printf("%s\t%s\t%s\t%s\t%s\n", j.ID, j.DeviceID, j.ShareID, j.Type, j.Status)
			}
			fmt.Printf("(%d of %d)\n", len(jobs), total)
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceName, "device", "", "Filter by device name")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

func newJobsRetryCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "retry JOB_ID",
		Short: "Retry a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			job, err := application.orch.RetryFailedJob(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("retry failed: %w", err)
			}
			fmt.Printf("job %s: %s\n", job.ID, job.Status)
			return nil
		},
	}
}
