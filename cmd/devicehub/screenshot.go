package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/devicehub"
)

func newScreenshotCmd() *cobra.Command {
	var flagOutput string

	cmd := &cobra.Command{
		Use:   "screenshot <device-id>",
		Short: "Capture a device screenshot to a PNG file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID := args[0]
			output := flagOutput
			if output == "" {
				output = fmt.Sprintf("%s.png", deviceID)
			}
			bridge := devicehub.NewBridgeClient(devicehub.BridgeConfig{Path: bridgePath()})
			png, err := bridge.Screenshot(cmd.Context(), deviceID)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, png, 0o644); err != nil {
				return err
			}
			log.Info().Str("device_id", deviceID).Str("output", output).Int("bytes", len(png)).Msg("screenshot saved")
			return nil
		},
	}

	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output file path (default <device-id>.png)")
	return cmd
}
