// Package client implements a remote types.TaskService over the coordinator
// REST API. Blocking operations are long-polled: the server answers 204 No
// Content when its poll window expires and the client simply asks again, so
// callers see the same blocking semantics as the in-process task manager.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"taskfarm/engine/api/rest"
	"taskfarm/engine/pkg/types"
)

// Config holds the configuration for the coordinator client.
type Config struct {
	// CoordinatorURL is the base URL of the coordinator
	// (e.g., "http://localhost:8080").
	CoordinatorURL string

	// RequestTimeout is the timeout for a single HTTP request. It must exceed
	// the server's poll timeout or long-polls get cut off mid-wait.
	RequestTimeout time.Duration

	// RetryDelay is the pause between retries after a transport failure.
	RetryDelay time.Duration
}

// DefaultConfig returns a default client configuration.
func DefaultConfig() *Config {
	return &Config{
		CoordinatorURL: "http://localhost:8080",
		RequestTimeout: 30 * time.Second,
		RetryDelay:     time.Second,
	}
}

// Client talks to a remote coordinator. It implements types.TaskService.
type Client struct {
	config *Config
	agent  *fiber.Client
}

var _ types.TaskService = (*Client)(nil)

// NewClient creates a coordinator client.
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		config: config,
		agent:  fiber.AcquireClient(),
	}
}

// restError carries a decoded coordinator error envelope.
type restError struct {
	status  int
	kind    string
	message string
}

func (e *restError) Error() string {
	return fmt.Sprintf("coordinator error %d (%s): %s", e.status, e.kind, e.message)
}

// errPollExpired distinguishes an expired long-poll from a real error.
var errPollExpired = fmt.Errorf("poll window expired")

// do sends one JSON request and decodes the response into out (when out is
// non-nil and the response carries a body). 204 maps to errPollExpired, 410 to
// types.ErrTerminated.
func (c *Client) do(method, path string, body, out any) error {
	url := c.config.CoordinatorURL + path

	var req *fiber.Agent
	switch method {
	case fiber.MethodGet:
		req = c.agent.Get(url)
	case fiber.MethodPost:
		req = c.agent.Post(url)
	case fiber.MethodDelete:
		req = c.agent.Delete(url)
	default:
		return fmt.Errorf("unsupported method %s", method)
	}
	req.Timeout(c.config.RequestTimeout)

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.Body(payload)
		req.Set("Content-Type", "application/json")
	}

	statusCode, respBody, errs := req.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("request %s %s: %w", method, path, errs[0])
	}

	switch {
	case statusCode == fiber.StatusNoContent:
		return errPollExpired
	case statusCode == fiber.StatusGone:
		return types.ErrTerminated
	case statusCode >= 400:
		var envelope struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return &restError{status: statusCode, kind: "unknown", message: string(respBody)}
		}
		return &restError{status: statusCode, kind: envelope.Error, message: envelope.Message}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// poll repeats a long-poll request until it yields a response, the
// coordinator terminates, or ctx is cancelled.
func (c *Client) poll(ctx context.Context, path string, body, out any) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.do(fiber.MethodPost, path, body, out)
		if err == nil {
			return nil
		}
		if err == errPollExpired {
			continue
		}
		var re *restError
		if errors.As(err, &re) {
			return err
		}
		if errors.Is(err, types.ErrTerminated) {
			return err
		}
		// Transport failure: back off and retry so a coordinator restart does
		// not kill the worker.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.RetryDelay):
		}
	}
}

// RegisterProcess registers this client as a process with the coordinator.
func (c *Client) RegisterProcess(ctx context.Context, watchdogPeriod time.Duration) (int, error) {
	var resp rest.RegisterProcessResponse
	err := c.do(fiber.MethodPost, "/api/v1/processes", rest.RegisterProcessRequest{
		WatchdogPeriodMS: watchdogPeriod.Milliseconds(),
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.ProcessID, nil
}

// UnregisterProcess removes the process registration.
func (c *Client) UnregisterProcess(ctx context.Context, processID int) error {
	err := c.do(fiber.MethodDelete, fmt.Sprintf("/api/v1/processes/%d", processID), nil, nil)
	if err == errPollExpired {
		return nil
	}
	return err
}

// Ping refreshes the watchdog timestamp for the process.
func (c *Client) Ping(ctx context.Context, processID int) error {
	err := c.do(fiber.MethodPost, fmt.Sprintf("/api/v1/processes/%d/ping", processID), nil, nil)
	if err == errPollExpired {
		return nil
	}
	return err
}

// AddTaskRequest submits a task and returns its id.
func (c *Client) AddTaskRequest(ctx context.Context, tag string, parameters any, requestingProcess int) (string, error) {
	var resp rest.SubmitTaskResponse
	err := c.do(fiber.MethodPost, "/api/v1/tasks", rest.SubmitTaskRequest{
		Tag:               tag,
		Parameters:        parameters,
		RequestingProcess: requestingProcess,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.TaskID, nil
}

// GetAnyTask blocks until any task is available.
func (c *Client) GetAnyTask(ctx context.Context, processID int) (*types.TaskAssignment, error) {
	return c.nextTask(ctx, "", processID)
}

// GetTaskWithTag blocks until a task with the given tag is available.
func (c *Client) GetTaskWithTag(ctx context.Context, tag string, processID int) (*types.TaskAssignment, error) {
	return c.nextTask(ctx, tag, processID)
}

func (c *Client) nextTask(ctx context.Context, tag string, processID int) (*types.TaskAssignment, error) {
	var resp rest.TaskAssignmentResponse
	err := c.poll(ctx, "/api/v1/tasks/next", rest.NextTaskRequest{ProcessID: processID, Tag: tag}, &resp)
	if err != nil {
		return nil, err
	}
	return &types.TaskAssignment{
		TaskID:     resp.TaskID,
		Tag:        resp.Tag,
		Parameters: resp.Parameters,
	}, nil
}

// StoreResult reports successful completion of a task.
func (c *Client) StoreResult(ctx context.Context, taskID string, result any) error {
	err := c.do(fiber.MethodPost, fmt.Sprintf("/api/v1/tasks/%s/result", taskID),
		rest.StoreResultRequest{Result: result}, nil)
	if err == errPollExpired {
		return nil
	}
	return err
}

// StoreException reports a task failure.
func (c *Client) StoreException(ctx context.Context, taskID, message, traceback string) error {
	err := c.do(fiber.MethodPost, fmt.Sprintf("/api/v1/tasks/%s/exception", taskID),
		rest.StoreExceptionRequest{Message: message, Traceback: traceback}, nil)
	if err == errPollExpired {
		return nil
	}
	return err
}

// ReturnTask hands a task back for redelivery.
func (c *Client) ReturnTask(ctx context.Context, taskID string) error {
	err := c.do(fiber.MethodPost, fmt.Sprintf("/api/v1/tasks/%s/return", taskID), nil, nil)
	if err == errPollExpired {
		return nil
	}
	return err
}

// GetAnyResult blocks until any result is available.
func (c *Client) GetAnyResult(ctx context.Context) (*types.TaskResult, error) {
	return c.nextResult(ctx, "")
}

// GetResultWithTag blocks until a result with the given tag is available.
func (c *Client) GetResultWithTag(ctx context.Context, tag string) (*types.TaskResult, error) {
	return c.nextResult(ctx, tag)
}

func (c *Client) nextResult(ctx context.Context, tag string) (*types.TaskResult, error) {
	var resp rest.TaskResultResponse
	err := c.poll(ctx, "/api/v1/results/next", rest.NextResultRequest{Tag: tag}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Completed {
		return nil, &types.TaskFailed{
			TaskID:    resp.TaskID,
			Tag:       resp.Tag,
			Message:   resp.Message,
			Traceback: resp.Traceback,
		}
	}
	return &types.TaskResult{
		TaskID: resp.TaskID,
		Tag:    resp.Tag,
		Result: resp.Result,
	}, nil
}

// NumberOfActiveProcesses returns the number of registered processes.
func (c *Client) NumberOfActiveProcesses(ctx context.Context) (int, error) {
	var resp rest.HealthResponse
	if err := c.do(fiber.MethodGet, "/api/v1/health", nil, &resp); err != nil {
		return 0, err
	}
	return resp.ActiveProcesses, nil
}

// NumberOfTasks returns the waiting/running/finished counts.
func (c *Client) NumberOfTasks(ctx context.Context) (types.TaskCounts, error) {
	var counts types.TaskCounts
	if err := c.do(fiber.MethodGet, "/api/v1/counts", nil, &counts); err != nil {
		return types.TaskCounts{}, err
	}
	return counts, nil
}

// Terminate shuts down the remote task manager.
func (c *Client) Terminate(ctx context.Context) error {
	err := c.do(fiber.MethodPost, "/api/v1/terminate", nil, nil)
	if err == errPollExpired {
		return nil
	}
	return err
}
