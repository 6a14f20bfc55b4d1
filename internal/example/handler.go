package example

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/agent-infra/internal/api"
	"github.com/phrazzld/agent-infra/internal/api/shared"
	"github.com/phrazzld/agent-infra/internal/task"
)

// TaskClient sends tasks and reads their results.
type TaskClient interface {
	Delay(ctx context.Context, name string, args any) (*task.AsyncResult, error)
	Result(ctx context.Context, id string) (*task.Result, error)
}

// EmailRequest is the body of POST /example/send-email. Subject and body
// must be present but may be empty.
type EmailRequest struct {
	To      string  `json:"to"      validate:"required,email"`
	Subject *string `json:"subject" validate:"required"`
	Body    *string `json:"body"    validate:"required"`
}

// DataRequest is the body of POST /example/process-data.
type DataRequest struct {
	Data map[string]any `json:"data" validate:"required"`
}

// TaskResponse is returned when a task is queued.
type TaskResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TaskStatusResponse reports a task's state. Result is always present and
// null unless the state carries a value.
type TaskStatusResponse struct {
	TaskID string  `json:"task_id"`
	State  string  `json:"state"`
	Result any     `json:"result"`
	Error  *string `json:"error"`
}

// Handler serves the /example routes.
type Handler struct {
	client TaskClient
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(client TaskClient, logger *slog.Logger) *Handler {
	return &Handler{client: client, logger: logger}
}

// Routes mounts the handler's endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/send-email", h.SendEmail)
	r.Post("/process-data", h.ProcessData)
	r.Get("/task/{task_id}", h.TaskStatus)
}

// SendEmail handles POST /example/send-email.
func (h *Handler) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}

	args := SendEmailArgs{To: req.To, Subject: *req.Subject, Body: *req.Body}
	h.queue(w, r, SendEmailTask, args, "Email task queued with ID: %s")
}

// ProcessData handles POST /example/process-data.
func (h *Handler) ProcessData(w http.ResponseWriter, r *http.Request) {
	var req DataRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}

	h.queue(w, r, ProcessDataTask, ProcessDataArgs(req), "Data processing task queued with ID: %s")
}

func (h *Handler) queue(w http.ResponseWriter, r *http.Request, name string, args any, msgFormat string) {
	res, err := h.client.Delay(r.Context(), name, args)
	if err != nil {
		api.HandleAPIError(w, r, err, "Failed to queue task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, TaskResponse{
		TaskID:  res.ID,
		Status:  "queued",
		Message: fmt.Sprintf(msgFormat, res.ID),
	})
}

// TaskStatus handles GET /example/task/{task_id}.
func (h *Handler) TaskStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")

	result, err := h.client.Result(r.Context(), id)
	if err != nil {
		api.HandleAPIError(w, r, err, "Failed to read task status")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, statusResponse(id, result))
}

func statusResponse(id string, result *task.Result) TaskStatusResponse {
	resp := TaskStatusResponse{TaskID: id, State: string(result.State)}

	switch result.State {
	case task.StateSuccess:
		if len(result.Result) > 0 {
			resp.Result = json.RawMessage(result.Result)
		}
	case task.StateFailure:
		msg := result.Error
		resp.Error = &msg
	case task.StatePending:
	default:
		if info := result.Info(); info != nil {
			resp.Result = info
		}
	}
	return resp
}
