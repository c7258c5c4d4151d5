package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/devicehub/internal/env"
)

var rootCmd = &cobra.Command{
	Use:   "devicehub",
	Short: "Device pool and test execution coordinator",
	Long:  "devicehub coordinates automated test runs against a pool of bridge-attached devices: discovery, exclusive locking, async execution dispatch and live progress streaming.",
}

var rootBridgePath string

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.PersistentFlags().StringVar(&rootBridgePath, "bridge", "", "bridge executable path, overrides DEVICEHUB_BRIDGE_PATH")
	rootCmd.AddCommand(
		newServeCmd(),
		newDevicesCmd(),
		newScreenshotCmd(),
	)
	_ = env.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("devicehub command failed")
	}
}
