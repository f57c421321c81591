package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"image-pipeline/internal/domain"
	"image-pipeline/internal/http-server/handler/processing/dto"
	"image-pipeline/internal/http-server/middleware"
	task_uc "image-pipeline/internal/usecase/task"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/zlog"
)

const maxBodySize = 1 << 20

type Handler struct {
	tasks    taskUsecase
	queue    queueUsecase
	stats    statsUsecase
	maxAwait time.Duration
	validate *validator.Validate
	logger   *zlog.Zerolog
}

func NewHandler(tasks taskUsecase, queue queueUsecase, stats statsUsecase, maxAwait time.Duration, logger *zlog.Zerolog) *Handler {
	return &Handler{
		tasks:    tasks,
		queue:    queue,
		stats:    stats,
		maxAwait: maxAwait,
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req dto.ProcessRequest
	if err := h.decode(w, r, &req); err != nil {
		h.handleError(w, err, "process", "")
		return
	}

	opts, err := domain.OptionsFromOperations(req.Operations)
	if err != nil {
		h.handleError(w, err, "process", "")
		return
	}

	task, err := h.tasks.Submit(r.Context(), user.UserID, req.ImageID, opts)
	if err != nil {
		h.handleError(w, err, "process", "")
		return
	}

	h.respondJSON(w, http.StatusAccepted, dto.SubmitResponse{TaskID: task.ID, Status: string(task.State)})
}

func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req dto.BatchRequest
	if err := h.decode(w, r, &req); err != nil {
		h.handleError(w, err, "process_batch", "")
		return
	}

	items := make([]task_uc.BatchItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = task_uc.BatchItem{ImageID: it.ImageID, Operations: it.Operations}
	}

	results := h.tasks.SubmitBatch(r.Context(), user.UserID, items)

	resp := dto.BatchResponse{Results: make([]dto.BatchItemResponse, len(results))}
	for i, res := range results {
		item := dto.BatchItemResponse{Index: res.Index, TaskID: res.TaskID}
		if res.Err != nil {
			status, message := statusFor(res.Err)
			body := errorBody(status, message, res.Err)
			item.Error = &body
		}
		resp.Results[i] = item
	}

	h.respondJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identity(w, r)
	if !ok {
		return
	}

	filter, page, limit, err := parseHistoryQuery(r)
	if err != nil {
		h.handleError(w, err, "history", "")
		return
	}

	tasks, total, err := h.tasks.History(r.Context(), user.UserID, filter, page, limit)
	if err != nil {
		h.handleError(w, err, "history", "")
		return
	}

	page, limit = domain.NormalizePage(page, limit)
	h.respondJSON(w, http.StatusOK, dto.NewHistoryResponse(tasks, page, limit, total))
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identity(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	wait, err := h.parseWait(r.URL.Query().Get("wait"))
	if err != nil {
		h.handleError(w, err, "get_task", id)
		return
	}

	var task *domain.ProcessingTask
	if wait > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()

		task, err = h.tasks.Await(ctx, id, user.UserID)
		if errors.Is(err, context.DeadlineExceeded) && task != nil {
			err = nil
		}
	} else {
		task, err = h.tasks.GetTask(r.Context(), id, user.UserID)
	}
	if err != nil {
		h.handleError(w, err, "get_task", id)
		return
	}

	h.respondJSON(w, http.StatusOK, dto.NewTaskResponse(task))
}

func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identity(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := h.tasks.Delete(r.Context(), id, user.UserID); err != nil {
		h.handleError(w, err, "delete", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identity(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	res, err := h.tasks.GetResult(r.Context(), id, user.UserID)
	if err != nil {
		h.handleError(w, err, "get_result", id)
		return
	}

	resp, err := dto.NewResultResponse(res.ProcessingResult, res.URL)
	if err != nil {
		h.handleError(w, err, "get_result", id)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identity(w, r)
	if !ok {
		return
	}

	global := r.URL.Query().Get("scope") == "global"
	status, err := h.queue.Status(r.Context(), user.UserID, user.Role, global)
	if err != nil {
		h.handleError(w, err, "queue_status", "")
		return
	}

	h.respondJSON(w, http.StatusOK, status)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identity(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	task, err := h.tasks.Cancel(r.Context(), id, user.UserID)
	if err != nil {
		h.handleError(w, err, "cancel", id)
		return
	}

	h.respondJSON(w, http.StatusOK, dto.NewTaskResponse(task))
}

func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identity(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var req dto.ReprocessRequest
	if r.ContentLength != 0 {
		if err := h.decode(w, r, &req); err != nil {
			h.handleError(w, err, "reprocess", id)
			return
		}
	}

	var opts *domain.ProcessingOptions
	if len(req.Operations) > 0 {
		parsed, err := domain.OptionsFromOperations(req.Operations)
		if err != nil {
			h.handleError(w, err, "reprocess", id)
			return
		}
		opts = &parsed
	}

	task, err := h.tasks.Reprocess(r.Context(), id, user.UserID, opts)
	if err != nil {
		h.handleError(w, err, "reprocess", id)
		return
	}

	h.respondJSON(w, http.StatusAccepted, dto.SubmitResponse{TaskID: task.ID, Status: string(task.State)})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identity(w, r)
	if !ok {
		return
	}

	stats, err := h.stats.Stats(r.Context(), user.UserID)
	if err != nil {
		h.handleError(w, err, "stats", "")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		h.handleError(w, domain.ErrUnauthorized, "identity", "")
	}
	return id, ok
}

// decode reads a JSON body into dst and runs struct validation on it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.NewValidationError("body", "request body is empty")
		}
		return domain.NewValidationError("body", "invalid JSON: "+err.Error())
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return domain.NewValidationError(fe.Field(), fmt.Sprintf("failed on %q", fe.Tag()))
		}
		return domain.NewValidationError("body", err.Error())
	}
	return nil
}

func (h *Handler) parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	wait, err := time.ParseDuration(raw)
	if err != nil || wait < 0 {
		return 0, domain.NewValidationError("wait", "must be a non-negative duration such as 5s")
	}
	if h.maxAwait > 0 && wait > h.maxAwait {
		wait = h.maxAwait
	}
	return wait, nil
}

func parseHistoryQuery(r *http.Request) (domain.TaskFilter, int, int, error) {
	q := r.URL.Query()
	var filter domain.TaskFilter

	page, err := intParam(q.Get("page"), "page")
	if err != nil {
		return filter, 0, 0, err
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		return filter, 0, 0, err
	}

	if s := q.Get("status"); s != "" {
		st, ok := domain.ParseTaskState(s)
		if !ok {
			return filter, 0, 0, domain.NewValidationError("status", "unknown status "+strconv.Quote(s))
		}
		filter.Status = st
	}

	if filter.DateFrom, err = timeParam(q.Get("dateFrom"), "dateFrom", false); err != nil {
		return filter, 0, 0, err
	}
	if filter.DateTo, err = timeParam(q.Get("dateTo"), "dateTo", true); err != nil {
		return filter, 0, 0, err
	}

	return filter, page, limit, nil
}

func intParam(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(field, "must be an integer")
	}
	return v, nil
}

// timeParam accepts RFC 3339 or a bare date. A bare dateTo covers the whole day.
func timeParam(raw, field string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, domain.NewValidationError(field, "must be RFC 3339 or YYYY-MM-DD")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
