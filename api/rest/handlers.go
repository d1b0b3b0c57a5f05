package rest

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"taskfarm/engine/pkg/types"
)

// pollContext bounds a blocking call to the configured poll timeout.
func (s *Server) pollContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), s.config.PollTimeout)
}

// respondBlockingError maps errors from blocking task manager calls: a
// terminated coordinator answers 410 Gone, an expired poll answers 204 No
// Content so the client polls again.
func respondBlockingError(c *fiber.Ctx, err error) error {
	if errors.Is(err, types.ErrTerminated) {
		return c.Status(fiber.StatusGone).JSON(ErrorResponse{
			Error:   "terminated",
			Message: "task manager has been terminated",
		})
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error:   "internal_error",
		Message: err.Error(),
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "bad_request",
		Message: message,
	})
}

func (s *Server) healthCheck(c *fiber.Ctx) error {
	active, err := s.service.NumberOfActiveProcesses(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(HealthResponse{
		Status:          "ok",
		InstanceID:      s.instanceID,
		ActiveProcesses: active,
	})
}

func (s *Server) registerProcess(c *fiber.Ctx) error {
	var req RegisterProcessRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.WatchdogPeriodMS < 0 {
		return badRequest(c, "watchdog_period_ms cannot be negative")
	}

	pid, err := s.service.RegisterProcess(c.UserContext(),
		time.Duration(req.WatchdogPeriodMS)*time.Millisecond)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(RegisterProcessResponse{ProcessID: pid})
}

func (s *Server) unregisterProcess(c *fiber.Ctx) error {
	pid, err := c.ParamsInt("id")
	if err != nil {
		return badRequest(c, "invalid process id")
	}
	if err := s.service.UnregisterProcess(c.UserContext(), pid); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) pingProcess(c *fiber.Ctx) error {
	pid, err := c.ParamsInt("id")
	if err != nil {
		return badRequest(c, "invalid process id")
	}
	if err := s.service.Ping(c.UserContext(), pid); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) submitTask(c *fiber.Ctx) error {
	var req SubmitTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Tag == "" {
		return badRequest(c, "tag cannot be empty")
	}

	id, err := s.service.AddTaskRequest(c.UserContext(), req.Tag, req.Parameters, req.RequestingProcess)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(SubmitTaskResponse{TaskID: id})
}

func (s *Server) nextTask(c *fiber.Ctx) error {
	var req NextTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	ctx, cancel := s.pollContext(c)
	defer cancel()

	var (
		assignment *types.TaskAssignment
		err        error
	)
	if req.Tag == "" {
		assignment, err = s.service.GetAnyTask(ctx, req.ProcessID)
	} else {
		assignment, err = s.service.GetTaskWithTag(ctx, req.Tag, req.ProcessID)
	}
	if err != nil {
		return respondBlockingError(c, err)
	}

	return c.JSON(TaskAssignmentResponse{
		TaskID:     assignment.TaskID,
		Tag:        assignment.Tag,
		Parameters: assignment.Parameters,
	})
}

func (s *Server) storeResult(c *fiber.Ctx) error {
	taskID := c.Params("id")
	var req StoreResultRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	if err := s.service.StoreResult(c.UserContext(), taskID, req.Result); err != nil {
		return respondBlockingError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) storeException(c *fiber.Ctx) error {
	taskID := c.Params("id")
	var req StoreExceptionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	if err := s.service.StoreException(c.UserContext(), taskID, req.Message, req.Traceback); err != nil {
		return respondBlockingError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) returnTask(c *fiber.Ctx) error {
	taskID := c.Params("id")
	if err := s.service.ReturnTask(c.UserContext(), taskID); err != nil {
		return respondBlockingError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) nextResult(c *fiber.Ctx) error {
	var req NextResultRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	ctx, cancel := s.pollContext(c)
	defer cancel()

	var (
		result *types.TaskResult
		err    error
	)
	if req.Tag == "" {
		result, err = s.service.GetAnyResult(ctx)
	} else {
		result, err = s.service.GetResultWithTag(ctx, req.Tag)
	}
	if err != nil {
		// Failures are task outcomes, not transport errors; they travel in
		// the normal envelope with Completed false.
		var failed *types.TaskFailed
		if errors.As(err, &failed) {
			return c.JSON(TaskResultResponse{
				TaskID:    failed.TaskID,
				Tag:       failed.Tag,
				Completed: false,
				Message:   failed.Message,
				Traceback: failed.Traceback,
			})
		}
		return respondBlockingError(c, err)
	}

	return c.JSON(TaskResultResponse{
		TaskID:    result.TaskID,
		Tag:       result.Tag,
		Completed: true,
		Result:    result.Result,
	})
}

func (s *Server) getCounts(c *fiber.Ctx) error {
	counts, err := s.service.NumberOfTasks(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(counts)
}

func (s *Server) getStats(c *fiber.Ctx) error {
	if s.stats == nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "statistics are not available",
		})
	}
	return c.JSON(s.stats.Stats())
}

func (s *Server) terminate(c *fiber.Ctx) error {
	if err := s.service.Terminate(c.UserContext()); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
