package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkotelnikov/shopwork-system/internal/model"
	"github.com/mkotelnikov/shopwork-system/internal/repository"
)

func withIssueID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateIssue_Created(t *testing.T) {
	now := time.Now().UTC()
	svc := &stubService{
		issueResp: &model.Issue{
			ID:         5,
			Key:        "ISS-AB12CD34",
			Title:      "Fix checkout",
			StatusID:   1,
			PriorityID: 1,
			CreatorID:  1,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(issueCreateRequest{
		Title:      "Fix checkout",
		StatusID:   1,
		PriorityID: 1,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/workspace/issues", bytes.NewReader(body))
	rec := authedRequest(h, h.CreateIssue, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var got issueResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Key != "ISS-AB12CD34" {
		t.Fatalf("key = %q, want ISS-AB12CD34", got.Key)
	}
}

func TestCreateIssue_MissingTitle(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body, _ := json.Marshal(issueCreateRequest{
		StatusID:   1,
		PriorityID: 1,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/workspace/issues", bytes.NewReader(body))
	rec := authedRequest(h, h.CreateIssue, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestCreateIssue_BadDueDate(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	due := "15.09.2026"
	body, _ := json.Marshal(issueCreateRequest{
		Title:      "Fix checkout",
		StatusID:   1,
		PriorityID: 1,
		DueDate:    &due,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/workspace/issues", bytes.NewReader(body))
	rec := authedRequest(h, h.CreateIssue, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestUpdateIssue_NotFound(t *testing.T) {
	svc := &stubService{
		issueErr: repository.ErrIssueNotFound,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(issueUpdateRequest{})

	req := httptest.NewRequest(http.MethodPatch, "/api/workspace/issues/99", bytes.NewReader(body))
	req = withIssueID(req, "99")
	rec := authedRequest(h, h.UpdateIssue, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}

func TestUpdateIssue_UnknownReference(t *testing.T) {
	svc := &stubService{
		issueErr: repository.ErrReferenceNotFound,
	}
	h := newTestHandler(t, svc)

	statusID := int64(99)
	body, _ := json.Marshal(issueUpdateRequest{StatusID: &statusID})

	req := httptest.NewRequest(http.MethodPatch, "/api/workspace/issues/5", bytes.NewReader(body))
	req = withIssueID(req, "5")
	rec := authedRequest(h, h.UpdateIssue, req)

	if rec.Result().StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestGetIssue_NotFound(t *testing.T) {
	svc := &stubService{
		issueErr: repository.ErrIssueNotFound,
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/workspace/issues/99", nil)
	req = withIssueID(req, "99")
	rec := authedRequest(h, h.GetIssue, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}

func TestGetIssueActivities_NoContent(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/workspace/issues/5/activities", nil)
	req = withIssueID(req, "5")
	rec := authedRequest(h, h.GetIssueActivities, req)

	if rec.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNoContent)
	}
}

func TestGetIssueSubscribers_JSONResponse(t *testing.T) {
	svc := &stubService{
		subscribersResp: []int64{10, 20},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/workspace/issues/5/subscribers", nil)
	req = withIssueID(req, "5")
	rec := authedRequest(h, h.GetIssueSubscribers, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got map[string][]int64
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got["user_ids"]) != 2 || got["user_ids"][0] != 10 || got["user_ids"][1] != 20 {
		t.Fatalf("user_ids = %v, want [10 20]", got["user_ids"])
	}
}

func TestGetIssueSubscribers_NotFound(t *testing.T) {
	svc := &stubService{
		subscribersErr: repository.ErrIssueNotFound,
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/workspace/issues/99/subscribers", nil)
	req = withIssueID(req, "99")
	rec := authedRequest(h, h.GetIssueSubscribers, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}

func TestGetIssueActivities_JSONResponse(t *testing.T) {
	now := time.Now().UTC()
	svc := &stubService{
		activitiesResp: []model.IssueActivity{
			{
				ID:      1,
				IssueID: 5,
				ActorID: 1,
				Type:    model.ActivityCreated,
				NewValue: map[string]any{
					"title": "Fix checkout",
					"key":   "ISS-AB12CD34",
				},
				CreatedAt: now,
			},
			{
				ID:        2,
				IssueID:   5,
				ActorID:   1,
				Type:      model.ActivityStatusChanged,
				OldValue:  map[string]any{"id": int64(1), "name": "Backlog", "slug": "backlog"},
				NewValue:  map[string]any{"id": int64(2), "name": "In Progress", "slug": "in-progress"},
				CreatedAt: now.Add(time.Minute),
			},
		},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/workspace/issues/5/activities", nil)
	req = withIssueID(req, "5")
	rec := authedRequest(h, h.GetIssueActivities, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got []activityResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("items = %d, want 2", len(got))
	}
	if got[1].Type != string(model.ActivityStatusChanged) {
		t.Fatalf("type = %q, want %q", got[1].Type, model.ActivityStatusChanged)
	}
	if got[1].NewValue["slug"] != "in-progress" {
		t.Fatalf("new value = %v, want in-progress snapshot", got[1].NewValue)
	}
}
