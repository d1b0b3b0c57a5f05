// Package rest provides the coordinator's HTTP API. Blocking task manager
// operations are exposed as bounded long-poll endpoints: the server waits up
// to the configured poll timeout and answers 204 No Content when nothing
// became available, telling the client to poll again.
package rest

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskfarm/engine/pkg/types"
)

// Server is the coordinator REST API server.
type Server struct {
	app        *fiber.App
	service    types.TaskService
	stats      StatsProvider
	config     *Config
	log        *zap.Logger
	instanceID string
}

// StatsProvider exposes task timing statistics. Implemented by the task
// manager; optional.
type StatsProvider interface {
	Stats() types.StatsSnapshot
}

// Config holds the configuration for the REST API server.
type Config struct {
	// Address is the address to listen on (e.g., ":8080").
	Address string `yaml:"address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Must exceed PollTimeout or long-poll responses get cut off.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing.
	EnableCORS bool `yaml:"enable_cors"`

	// PollTimeout bounds how long a blocking endpoint waits before answering
	// 204 No Content.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// InstanceID identifies this coordinator. Generated when empty.
	InstanceID string `yaml:"instance_id"`
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:      ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		EnableCORS:   false,
		PollTimeout:  25 * time.Second,
	}
}

// NewServer creates a new REST API server around a task service.
func NewServer(service types.TaskService, config *Config, log *zap.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		ErrorHandler: errorHandler,
		AppName:      "Task Farm Coordinator",
	})

	server := &Server{
		app:        app,
		service:    service,
		config:     config,
		log:        log,
		instanceID: instanceID,
	}
	if sp, ok := service.(StatsProvider); ok {
		server.stats = sp
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	if s.config.EnableCORS {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: "*",
			AllowMethods: "GET,POST,DELETE,OPTIONS",
			AllowHeaders: "Origin,Content-Type,Accept",
			MaxAge:       86400,
		}))
	}
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthCheck)

	api := s.app.Group("/api/v1")
	api.Get("/health", s.healthCheck)

	api.Post("/processes", s.registerProcess)
	api.Post("/processes/:id/ping", s.pingProcess)
	api.Delete("/processes/:id", s.unregisterProcess)

	api.Post("/tasks", s.submitTask)
	api.Post("/tasks/next", s.nextTask)
	api.Post("/tasks/:id/result", s.storeResult)
	api.Post("/tasks/:id/exception", s.storeException)
	api.Post("/tasks/:id/return", s.returnTask)

	api.Post("/results/next", s.nextResult)

	api.Get("/counts", s.getCounts)
	api.Get("/stats", s.getStats)
	api.Post("/terminate", s.terminate)
}

// Start starts the REST API server.
func (s *Server) Start() error {
	s.log.Info("coordinator API listening",
		zap.String("address", s.config.Address),
		zap.String("instance_id", s.instanceID))
	return s.app.Listen(s.config.Address)
}

// StartWithContext starts the server and shuts it down when ctx is cancelled.
func (s *Server) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.Start()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying Fiber app, used by tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// errorHandler converts handler errors into the JSON error envelope.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}
