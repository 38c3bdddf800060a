package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mkotelnikov/shopwork-system/internal/middleware"
	"github.com/mkotelnikov/shopwork-system/internal/model"
	"github.com/mkotelnikov/shopwork-system/internal/repository"
	"github.com/mkotelnikov/shopwork-system/internal/service"
)

type issueCreateRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	StatusID    int64   `json:"status_id"`
	PriorityID  int64   `json:"priority_id"`
	AssigneeID  *int64  `json:"assignee_id,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
}

type issueUpdateRequest struct {
	Title         *string `json:"title,omitempty"`
	Description   *string `json:"description,omitempty"`
	StatusID      *int64  `json:"status_id,omitempty"`
	PriorityID    *int64  `json:"priority_id,omitempty"`
	AssigneeID    *int64  `json:"assignee_id,omitempty"`
	ClearAssignee bool    `json:"clear_assignee,omitempty"`
	DueDate       *string `json:"due_date,omitempty"`
	ClearDueDate  bool    `json:"clear_due_date,omitempty"`
}

type issueResponse struct {
	ID          int64   `json:"id"`
	Key         string  `json:"key"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	StatusID    int64   `json:"status_id"`
	PriorityID  int64   `json:"priority_id"`
	AssigneeID  *int64  `json:"assignee_id,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
	CreatorID   int64   `json:"creator_id"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func toIssueResponse(i *model.Issue) issueResponse {
	resp := issueResponse{
		ID:          i.ID,
		Key:         i.Key,
		Title:       i.Title,
		Description: i.Description,
		StatusID:    i.StatusID,
		PriorityID:  i.PriorityID,
		AssigneeID:  i.AssigneeID,
		CreatorID:   i.CreatorID,
		CreatedAt:   i.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   i.UpdatedAt.Format(time.RFC3339),
	}
	if i.DueDate != nil {
		v := i.DueDate.Format("2006-01-02")
		resp.DueDate = &v
	}
	return resp
}

// CreateIssue создаёт новую задачу от имени текущего пользователя.
func (h *Handler) CreateIssue(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req issueCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Title == "" || req.StatusID == 0 || req.PriorityID == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	dueDate, ok := parseDueDate(req.DueDate)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	issue, err := h.service.CreateIssue(r.Context(), userID, service.IssueCreateInput{
		Title:       req.Title,
		Description: req.Description,
		StatusID:    req.StatusID,
		PriorityID:  req.PriorityID,
		AssigneeID:  req.AssigneeID,
		DueDate:     dueDate,
	})
	if err != nil {
		if errors.Is(err, repository.ErrReferenceNotFound) || errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("create issue error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toIssueResponse(issue)); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// UpdateIssue применяет частичное изменение задачи; каждое изменение
// отслеживаемого поля попадает в журнал активности.
func (h *Handler) UpdateIssue(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	issueID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req issueUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	dueDate, ok := parseDueDate(req.DueDate)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	issue, err := h.service.UpdateIssue(r.Context(), userID, issueID, service.IssueUpdateInput{
		Title:         req.Title,
		Description:   req.Description,
		StatusID:      req.StatusID,
		PriorityID:    req.PriorityID,
		AssigneeID:    req.AssigneeID,
		ClearAssignee: req.ClearAssignee,
		DueDate:       dueDate,
		ClearDueDate:  req.ClearDueDate,
	})
	if err != nil {
		if errors.Is(err, repository.ErrIssueNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		if errors.Is(err, repository.ErrReferenceNotFound) || errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("update issue error", zap.Error(err), zap.Int64("issueID", issueID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, toIssueResponse(issue))
}

// GetIssue возвращает задачу по идентификатору.
func (h *Handler) GetIssue(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserIDFromContext(r.Context()); !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	issueID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	issue, err := h.service.GetIssue(r.Context(), issueID)
	if err != nil {
		if errors.Is(err, repository.ErrIssueNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get issue error", zap.Error(err), zap.Int64("issueID", issueID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, toIssueResponse(issue))
}

type activityResponse struct {
	ID        int64          `json:"id"`
	ActorID   int64          `json:"actor_id"`
	Type      string         `json:"type"`
	OldValue  map[string]any `json:"old_value,omitempty"`
	NewValue  map[string]any `json:"new_value,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// GetIssueActivities возвращает журнал активности задачи.
func (h *Handler) GetIssueActivities(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserIDFromContext(r.Context()); !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	issueID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	activities, err := h.service.GetIssueActivities(r.Context(), issueID)
	if err != nil {
		if errors.Is(err, repository.ErrIssueNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get activities error", zap.Error(err), zap.Int64("issueID", issueID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(activities) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]activityResponse, 0, len(activities))
	for _, a := range activities {
		resp = append(resp, activityResponse{
			ID:        a.ID,
			ActorID:   a.ActorID,
			Type:      string(a.Type),
			OldValue:  a.OldValue,
			NewValue:  a.NewValue,
			CreatedAt: a.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, h.logger, resp)
}

// GetIssueSubscribers возвращает идентификаторы подписчиков задачи.
func (h *Handler) GetIssueSubscribers(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserIDFromContext(r.Context()); !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	issueID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	subscribers, err := h.service.GetIssueSubscribers(r.Context(), issueID)
	if err != nil {
		if errors.Is(err, repository.ErrIssueNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get subscribers error", zap.Error(err), zap.Int64("issueID", issueID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(subscribers) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, h.logger, map[string][]int64{"user_ids": subscribers})
}

// parseDueDate разбирает дату в формате YYYY-MM-DD; nil допустим.
func parseDueDate(raw *string) (*time.Time, bool) {
	if raw == nil {
		return nil, true
	}
	parsed, err := time.Parse("2006-01-02", *raw)
	if err != nil {
		return nil, false
	}
	return &parsed, true
}
