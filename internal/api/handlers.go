package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	apperrors "github.com/ytdlpvpn/ytdlp-vpn/internal/errors"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/tools"
)

// maxBodyBytes caps request bodies; tool arguments are tiny
const maxBodyBytes = 1 << 20

// ToolHandlers exposes the tool registry over HTTP
type ToolHandlers struct {
	registry *tools.Registry
}

func NewToolHandlers(registry *tools.Registry) *ToolHandlers {
	return &ToolHandlers{registry: registry}
}

// ToolListResponse is the body of GET /api/v1/tools
type ToolListResponse struct {
	Tools []tools.Tool `json:"tools"`
}

// ToolCallResponse is the body of POST /api/v1/tools/{name}. A tool that
// ran and reported a failure still answers 200; Error carries the code.
type ToolCallResponse struct {
	Tool  string               `json:"tool"`
	Text  string               `json:"text"`
	Data  any                  `json:"data,omitempty"`
	Error *apperrors.ErrorBody `json:"error,omitempty"`
}

// List handles GET /api/v1/tools
func (h *ToolHandlers) List(w http.ResponseWriter, r *http.Request) error {
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, ToolListResponse{Tools: h.registry.List()})
	return nil
}

// Call handles POST /api/v1/tools/{name}
func (h *ToolHandlers) Call(w http.ResponseWriter, r *http.Request) error {
	name := r.PathValue("name")

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return apperrors.BadRequest("failed to read request body")
	}

	res, err := h.registry.Call(r.Context(), name, raw)
	if err != nil && res.Text == "" {
		// Rejected before the tool ran: bad arguments or an unknown name
		return err
	}

	requestID := apperrors.GetRequestID(r.Context())
	resp := ToolCallResponse{Tool: name, Text: res.Text, Data: res.Data}
	if err != nil {
		resp.Error = errorBody(requestID, err)
	}
	apperrors.WriteJSON(w, requestID, http.StatusOK, resp)
	return nil
}

func errorBody(requestID string, err error) *apperrors.ErrorBody {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.InternalError("an unexpected error occurred").WithCause(err)
	}
	return &apperrors.ErrorBody{
		Code:      appErr.Code,
		Message:   appErr.Message,
		RequestID: requestID,
		Details:   appErr.Details,
	}
}

// Handlers exposes the service operations as resource-style endpoints
type Handlers struct {
	service *tools.Service
	queue   tools.JobQueue
}

func NewHandlers(service *tools.Service, queue tools.JobQueue) *Handlers {
	return &Handlers{service: service, queue: queue}
}

// QueueStatus handles GET /api/v1/queue
func (h *Handlers) QueueStatus(w http.ResponseWriter, r *http.Request) error {
	return respond(w, r, http.StatusOK)(h.service.QueueStatus(r.Context()))
}

// CreateJob handles POST /api/v1/jobs
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) error {
	var args tools.QueueDownloadArgs
	if err := decodeBody(w, r, &args); err != nil {
		return err
	}
	if args.URL == "" {
		return apperrors.ValidationError("url is required")
	}
	return respond(w, r, http.StatusAccepted)(h.service.QueueDownload(r.Context(), args))
}

// GetJob handles GET /api/v1/jobs/{id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) error {
	id, err := jobID(r)
	if err != nil {
		return err
	}
	job, ok := h.queue.Get(id)
	if !ok {
		return apperrors.JobNotFound(id)
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, job)
	return nil
}

// CancelJob handles DELETE /api/v1/jobs/{id}
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) error {
	id, err := jobID(r)
	if err != nil {
		return err
	}
	return respond(w, r, http.StatusOK)(h.service.QueueCancel(r.Context(), id))
}

// ClearHistory handles DELETE /api/v1/history
func (h *Handlers) ClearHistory(w http.ResponseWriter, r *http.Request) error {
	return respond(w, r, http.StatusOK)(h.service.QueueClearHistory(r.Context()))
}

// VPNStatus handles GET /api/v1/vpn
func (h *Handlers) VPNStatus(w http.ResponseWriter, r *http.Request) error {
	return respond(w, r, http.StatusOK)(h.service.VPNStatus(r.Context()))
}

// ListConfigs handles GET /api/v1/vpn/configs
func (h *Handlers) ListConfigs(w http.ResponseWriter, r *http.Request) error {
	return respond(w, r, http.StatusOK)(h.service.ListConfigs(r.Context()))
}

// StartVPN handles POST /api/v1/vpn/start
func (h *Handlers) StartVPN(w http.ResponseWriter, r *http.Request) error {
	var args tools.StartVPNArgs
	if err := decodeBody(w, r, &args); err != nil {
		return err
	}
	return respond(w, r, http.StatusOK)(h.service.StartVPN(r.Context(), args))
}

// StopVPN handles POST /api/v1/vpn/stop
func (h *Handlers) StopVPN(w http.ResponseWriter, r *http.Request) error {
	return respond(w, r, http.StatusOK)(h.service.StopVPN(r.Context()))
}

// VideoInfo handles GET /api/v1/info?url=
func (h *Handlers) VideoInfo(w http.ResponseWriter, r *http.Request) error {
	url := r.URL.Query().Get("url")
	if url == "" {
		return apperrors.ValidationError("url query parameter is required")
	}
	return respond(w, r, http.StatusOK)(h.service.VideoInfo(r.Context(), url))
}

// respond writes the structured part of a tool result, or hands the error
// back to apperrors.HandleFunc
func respond(w http.ResponseWriter, r *http.Request, status int) func(tools.Result, error) error {
	return func(res tools.Result, err error) error {
		if err != nil {
			return err
		}
		data := res.Data
		if data == nil {
			data = map[string]string{"message": res.Text}
		}
		apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), status, data)
		return nil
	}
}

func jobID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.BadRequest(fmt.Sprintf("invalid job id %q", raw))
	}
	return id, nil
}

// decodeBody decodes an optional JSON body. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return apperrors.BadRequest("failed to read request body")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.BadRequest("invalid request body")
	}
	return nil
}
