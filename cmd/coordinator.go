package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taskfarm/engine/api/rest"
	"taskfarm/engine/api/rest/client"
	"taskfarm/engine/internal/config"
	"taskfarm/engine/internal/manager"
	"taskfarm/engine/pkg/logger"
)

var (
	coordinatorAddress string
	coordinatorURL     string
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Manage the coordinator",
}

var coordinatorStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the coordinator",
	Long: `Start the coordinator: the task manager plus its HTTP API. Masters
submit task requests and retrieve results; workers register, fetch tasks and
report completions over the same API.`,
	Example: `  # Start with defaults
  taskfarm coordinator start

  # Listen on a different address
  taskfarm coordinator start --address :9090

  # Use a configuration file
  taskfarm coordinator start --config farm.yaml`,
	RunE: runCoordinatorStart,
}

var coordinatorStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show coordinator status",
	Example: `  taskfarm coordinator status
  taskfarm coordinator status --url http://farm.internal:8080`,
	RunE: runCoordinatorStatus,
}

func init() {
	rootCmd.AddCommand(coordinatorCmd)
	coordinatorCmd.AddCommand(coordinatorStartCmd)
	coordinatorCmd.AddCommand(coordinatorStatusCmd)

	coordinatorStartCmd.Flags().StringVar(&coordinatorAddress, "address", "", "HTTP listen address")
	coordinatorStatusCmd.Flags().StringVar(&coordinatorURL, "url", "http://localhost:8080", "coordinator base URL")
}

// loadConfig loads the configuration file and applies global CLI overrides.
func loadConfig(overrides map[string]string) (*config.Config, error) {
	if logLevel != "" {
		overrides["logging.level"] = logLevel
	}
	return config.NewLoader().
		WithConfigPath(cfgFile).
		WithCmdArgs(overrides).
		Load()
}

func initLogger(cfg *config.Config) *zap.Logger {
	logger.Init(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	})
	return logger.L()
}

func runCoordinatorStart(cmd *cobra.Command, args []string) error {
	overrides := map[string]string{}
	if coordinatorAddress != "" {
		overrides["server.address"] = coordinatorAddress
	}
	cfg, err := loadConfig(overrides)
	if err != nil {
		return err
	}

	log := initLogger(cfg)
	defer logger.Sync()

	tm := manager.NewTaskManager(log.Named("manager"))
	server := rest.NewServer(tm, &rest.Config{
		Address:      cfg.Server.Address,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		EnableCORS:   cfg.Server.EnableCORS,
		PollTimeout:  cfg.Coordinator.PollTimeout,
		InstanceID:   cfg.Coordinator.InstanceID,
	}, log.Named("api"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down coordinator")
	if err := tm.Terminate(context.Background()); err != nil {
		log.Warn("terminate task manager", zap.Error(err))
	}
	// Give in-flight API responses a moment to drain before closing.
	time.Sleep(100 * time.Millisecond)
	return server.Shutdown()
}

func runCoordinatorStatus(cmd *cobra.Command, args []string) error {
	ccfg := client.DefaultConfig()
	ccfg.CoordinatorURL = coordinatorURL
	c := client.NewClient(ccfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	active, err := c.NumberOfActiveProcesses(ctx)
	if err != nil {
		return fmt.Errorf("coordinator unreachable: %w", err)
	}
	counts, err := c.NumberOfTasks(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("coordinator: %s\n", coordinatorURL)
	fmt.Printf("active processes: %d\n", active)
	fmt.Printf("tasks: %d waiting, %d running, %d finished\n",
		counts.Waiting, counts.Running, counts.Finished)
	return nil
}
