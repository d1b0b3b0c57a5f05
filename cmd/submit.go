package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"taskfarm/engine/api/rest/client"
)

var (
	submitURL     string
	submitTag     string
	submitParams  string
	submitWait    bool
	submitTimeout time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a task to a coordinator",
	Long: `Submit a single task request. With --wait the command blocks until a
result with the task's tag becomes available and prints it as JSON.`,
	Example: `  # Fire and forget
  taskfarm submit --tag echo --params '"hello"'

  # Submit and wait for the result
  taskfarm submit --tag sqrt --params 16 --wait`,
	RunE: runSubmit,
}

var terminateCmd = &cobra.Command{
	Use:   "terminate",
	Short: "Terminate a coordinator",
	Long: `Terminate the coordinator's task manager. Every blocked master and
worker call fails immediately and workers shut down.`,
	RunE: runTerminate,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(terminateCmd)

	submitCmd.Flags().StringVar(&submitURL, "url", "http://localhost:8080", "coordinator base URL")
	submitCmd.Flags().StringVar(&submitTag, "tag", "", "task tag (required)")
	submitCmd.Flags().StringVar(&submitParams, "params", "null", "task parameters as JSON")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "wait for the result")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 5*time.Minute, "wait timeout")
	_ = submitCmd.MarkFlagRequired("tag")

	terminateCmd.Flags().StringVar(&submitURL, "url", "http://localhost:8080", "coordinator base URL")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var params any
	if err := json.Unmarshal([]byte(submitParams), &params); err != nil {
		return fmt.Errorf("--params must be valid JSON: %w", err)
	}

	ccfg := client.DefaultConfig()
	ccfg.CoordinatorURL = submitURL
	c := client.NewClient(ccfg)

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	id, err := c.AddTaskRequest(ctx, submitTag, params, 0)
	if err != nil {
		return err
	}
	fmt.Printf("task submitted: %s\n", id)

	if !submitWait {
		return nil
	}

	res, err := c.GetResultWithTag(ctx, submitTag)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runTerminate(cmd *cobra.Command, args []string) error {
	ccfg := client.DefaultConfig()
	ccfg.CoordinatorURL = submitURL
	c := client.NewClient(ccfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.Terminate(ctx); err != nil {
		return err
	}
	fmt.Println("coordinator terminated")
	return nil
}
