package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/arkeepbackup/backupd/internal/configstore"
)

func newDeviceCmd(cfg *cliConfig) *cobra.Command {
	root := &cobra.Command{
		Use:   "device",
		Short: "Manage configured devices",
	}
	root.AddCommand(newDeviceAddCmd(cfg))
	root.AddCommand(newDeviceListCmd(cfg))
	root.AddCommand(newDeviceRemoveCmd(cfg))
	return root
}

func newDeviceAddCmd(cfg *cliConfig) *cobra.Command {
	var (
		protocolName string
		host         string
		port         int
		username     string
		password     string
		wolEnabled   bool
		wolMAC       string
	)

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			encryptedPassword := ""
			if password != "" {
				encryptedPassword, err = application.creds.Encrypt(password)
				if err != nil {
					return fmt.Errorf("failed to encrypt device password: %w", err)
				}
			}

			now := time.Now().UTC()
			dev := configstore.Device{
				ID:                uuid.NewString(),
				Name:              args[0],
				Protocol:          configstore.Protocol(protocolName),
				Host:              host,
				Port:              port,
				Username:          username,
				EncryptedPassword: encryptedPassword,
				WakeOnLANEnabled:  wolEnabled,
				WakeOnLANMAC:      wolMAC,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if err := application.configStore.PutDevice(dev, "add device via CLI"); err != nil {
				return fmt.Errorf("failed to save device: %w", err)
			}
			fmt.Printf("added device %q (%s)\n", dev.Name, dev.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&protocolName, "protocol", "smb", "Transport protocol (smb, ssh, rsync)")
	cmd.Flags().StringVar(&host, "host", "", "Hostname or IP address")
	cmd.Flags().IntVar(&port, "port", 0, "Port (defaults to the protocol's standard port)")
	cmd.Flags().StringVar(&username, "username", "", "Username for authentication")
	cmd.Flags().StringVar(&password, "password", "", "Password for authentication (encrypted at rest)")
	cmd.Flags().BoolVar(&wolEnabled, "wake-on-lan", false, "Enable Wake-on-LAN before connecting")
	cmd.Flags().StringVar(&wolMAC, "wol-mac", "", "MAC address for the Wake-on-LAN magic packet")
	cmd.MarkFlagRequired("host")

	return cmd
}

func newDeviceListCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			devices, err := application.configStore.ListDevices()
			if err != nil {
				return err
			}
			for _, d := range devices {
				fmt.Printf("%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Protocol, d.Host)
			}
			return nil
		},
	}
}

func newDeviceRemoveCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "rm NAME",
		Short: "Remove a device and its shares",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			if err := application.configStore.DeleteDevice(args[0]); err != nil {
				return fmt.Errorf("failed to remove device: %w", err)
			}
			fmt.Printf("removed device %q\n", args[0])
			return nil
		},
	}
}
