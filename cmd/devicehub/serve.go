package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/devicehub"
	"github.com/httprunner/devicehub/internal/env"
	"github.com/httprunner/devicehub/internal/storage"
	"github.com/httprunner/devicehub/pkg/api"
)

func newServeCmd() *cobra.Command {
	var (
		flagAddr         string
		flagDBPath       string
		flagPollInterval time.Duration
		flagWorkers      int
		flagRunnerCmd    string
		flagReportRoot   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the devicehub API server",
		Long:  "Serves the REST and websocket API, polling the bridge for devices and dispatching executions to the worker pool.",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := strings.TrimSpace(flagAddr)
			if addr == "" {
				addr = env.String(devicehub.EnvListenAddr, ":8080")
			}
			dbPath := strings.TrimSpace(flagDBPath)
			if dbPath == "" {
				dbPath = env.String(devicehub.EnvDBPath, "devicehub.sqlite")
			}
			poll := flagPollInterval
			if poll <= 0 {
				poll = env.Duration(devicehub.EnvPollInterval, time.Minute)
			}
			workers := flagWorkers
			if workers <= 0 {
				workers = env.Int(devicehub.EnvWorkerCount, 4)
			}

			store, err := storage.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			bridge := devicehub.NewBridgeClient(devicehub.BridgeConfig{Path: bridgePath()})
			registry := devicehub.NewRegistry(store)
			locks := devicehub.NewLockManager(store, bridge)
			broadcaster := devicehub.NewBroadcaster()
			runner := devicehub.NewLocalTaskRunner(workers)
			defer runner.Close()

			var executor devicehub.JobExecutor = &devicehub.CommandExecutor{
				Command:    strings.TrimSpace(flagRunnerCmd),
				ReportRoot: flagReportRoot,
			}
			orchestrator := devicehub.NewOrchestrator(store, runner, executor, broadcaster)

			server := api.NewServer(api.Config{Addr: addr, PollInterval: poll},
				bridge, registry, locks, orchestrator, broadcaster)

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log.Info().
				Str("addr", addr).
				Str("db", dbPath).
				Dur("poll_interval", poll).
				Int("workers", workers).
				Msg("devicehub serving")
			return server.Run(sigCtx)
		},
	}

	cmd.Flags().StringVar(&flagAddr, "addr", "", "listen address, overrides DEVICEHUB_ADDR")
	cmd.Flags().StringVar(&flagDBPath, "db", "", "sqlite database path, overrides DEVICEHUB_DB_PATH")
	cmd.Flags().DurationVar(&flagPollInterval, "poll-interval", 0, "device discovery interval, overrides DEVICEHUB_POLL_INTERVAL")
	cmd.Flags().IntVar(&flagWorkers, "workers", 0, "execution worker count, overrides DEVICEHUB_WORKERS")
	cmd.Flags().StringVar(&flagRunnerCmd, "runner-cmd", "", "external runner command executing test steps")
	cmd.Flags().StringVar(&flagReportRoot, "report-root", "reports", "directory for per-execution report output")
	return cmd
}

func bridgePath() string {
	if p := strings.TrimSpace(rootBridgePath); p != "" {
		return p
	}
	return env.String(devicehub.EnvBridgePath, "")
}
