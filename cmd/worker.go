package cmd

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskfarm/engine/api/rest/client"
	"taskfarm/engine/internal/worker"
	"taskfarm/engine/pkg/logger"
)

var (
	workerCoordinatorURL string
	workerWatchdogPeriod time.Duration
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage workers",
}

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a worker with the built-in demo handlers",
	Long: `Start a worker against a coordinator. The worker registers itself,
pulls tasks, runs the matching handler and reports results until the
coordinator terminates.

The built-in handlers (echo, sleep, sqrt) exist for smoke-testing a farm;
real deployments embed the worker package with their own handlers.`,
	Example: `  # Work against a local coordinator
  taskfarm worker start

  # Work against a remote coordinator with a 30s watchdog period
  taskfarm worker start --coordinator http://farm.internal:8080 --watchdog-period 30s`,
	RunE: runWorkerStart,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerStartCmd)

	workerStartCmd.Flags().StringVar(&workerCoordinatorURL, "coordinator", "", "coordinator base URL")
	workerStartCmd.Flags().DurationVar(&workerWatchdogPeriod, "watchdog-period", 0, "watchdog ping period (0 uses the configured default)")
}

func runWorkerStart(cmd *cobra.Command, args []string) error {
	overrides := map[string]string{}
	if workerCoordinatorURL != "" {
		overrides["worker.coordinator_url"] = workerCoordinatorURL
	}
	if workerWatchdogPeriod > 0 {
		overrides["worker.watchdog_period"] = workerWatchdogPeriod.String()
	}
	cfg, err := loadConfig(overrides)
	if err != nil {
		return err
	}

	log := initLogger(cfg)
	defer logger.Sync()

	ccfg := client.DefaultConfig()
	ccfg.CoordinatorURL = cfg.Worker.CoordinatorURL
	c := client.NewClient(ccfg)

	w := worker.NewWorker(c,
		worker.WithWatchdogPeriod(cfg.Worker.WatchdogPeriod),
		worker.WithLogger(log.Named("worker")))
	registerDemoHandlers(w)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return w.Run(ctx)
}

// registerDemoHandlers installs the smoke-test handlers.
func registerDemoHandlers(w *worker.Worker) {
	w.Handle("echo", func(ctx context.Context, params any) (any, error) {
		return params, nil
	})

	w.Handle("sleep", func(ctx context.Context, params any) (any, error) {
		seconds, ok := params.(float64)
		if !ok {
			return nil, fmt.Errorf("sleep expects a number of seconds, got %T", params)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(seconds * float64(time.Second))):
			return seconds, nil
		}
	})

	w.Handle("sqrt", func(ctx context.Context, params any) (any, error) {
		x, ok := params.(float64)
		if !ok {
			return nil, fmt.Errorf("sqrt expects a number, got %T", params)
		}
		if x < 0 {
			return nil, fmt.Errorf("sqrt of negative number %v", x)
		}
		return []float64{x, math.Sqrt(x)}, nil
	})
}
