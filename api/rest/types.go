package rest

// ErrorResponse is the JSON error envelope returned by all endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RegisterProcessRequest registers a new process with the coordinator.
// WatchdogPeriodMS > 0 places the process under watchdog supervision.
type RegisterProcessRequest struct {
	WatchdogPeriodMS int64 `json:"watchdog_period_ms"`
}

// RegisterProcessResponse carries the allocated process id.
type RegisterProcessResponse struct {
	ProcessID int `json:"process_id"`
}

// SubmitTaskRequest submits a new task request.
type SubmitTaskRequest struct {
	Tag               string `json:"tag"`
	Parameters        any    `json:"parameters"`
	RequestingProcess int    `json:"requesting_process"`
}

// SubmitTaskResponse carries the allocated task id.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
}

// NextTaskRequest asks for the next waiting task. An empty Tag accepts any
// task.
type NextTaskRequest struct {
	ProcessID int    `json:"process_id"`
	Tag       string `json:"tag,omitempty"`
}

// TaskAssignmentResponse is a task handed to a worker.
type TaskAssignmentResponse struct {
	TaskID     string `json:"task_id"`
	Tag        string `json:"tag"`
	Parameters any    `json:"parameters"`
}

// StoreResultRequest reports successful task completion.
type StoreResultRequest struct {
	Result any `json:"result"`
}

// StoreExceptionRequest reports a task failure.
type StoreExceptionRequest struct {
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

// NextResultRequest asks for the next available result. An empty Tag accepts
// any result.
type NextResultRequest struct {
	Tag string `json:"tag,omitempty"`
}

// TaskResultResponse is a retrieved task outcome. Completed false means the
// task failed; Message and Traceback then carry the failure details.
type TaskResultResponse struct {
	TaskID    string `json:"task_id"`
	Tag       string `json:"tag"`
	Completed bool   `json:"completed"`
	Result    any    `json:"result,omitempty"`
	Message   string `json:"message,omitempty"`
	Traceback string `json:"traceback,omitempty"`
}

// HealthResponse reports coordinator liveness.
type HealthResponse struct {
	Status          string `json:"status"`
	InstanceID      string `json:"instance_id"`
	ActiveProcesses int    `json:"active_processes"`
}
