package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/httprunner/devicehub"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List devices visible to the bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			bridge := devicehub.NewBridgeClient(devicehub.BridgeConfig{Path: bridgePath()})
			devices, err := bridge.ListDevices(cmd.Context())
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("no devices found")
				return nil
			}
			fmt.Printf("%-28s %-10s %-20s %-12s %s\n", "DEVICE", "STATUS", "MODEL", "OS", "KIND")
			for _, dev := range devices {
				fmt.Printf("%-28s %-10s %-20s %-12s %s\n",
					dev.DeviceID, dev.Status, dev.Name, dev.OSVersion,
					devicehub.ClassifyConnection(dev.DeviceID))
			}
			return nil
		},
	}
}
