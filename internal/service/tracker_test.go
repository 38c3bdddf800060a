package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mkotelnikov/shopwork-system/internal/model"
)

func referenceStubRepo() *stubRepo {
	return &stubRepo{
		statuses: map[int64]*model.Status{
			1: {ID: 1, Name: "Backlog", Slug: "backlog"},
			2: {ID: 2, Name: "In Progress", Slug: "in-progress"},
		},
		priorities: map[int64]*model.Priority{
			1: {ID: 1, Name: "Urgent", Slug: "urgent"},
			2: {ID: 2, Name: "High", Slug: "high"},
		},
		usersByID: map[int64]*model.User{
			10: {ID: 10, Name: "Alice", Email: "alice@example.com"},
			20: {ID: 20, Name: "Bob", Email: "bob@example.com"},
		},
	}
}

func storedIssue() *model.Issue {
	return &model.Issue{
		ID:         5,
		Key:        "ISS-AB12CD34",
		Title:      "Fix checkout",
		StatusID:   1,
		PriorityID: 1,
		CreatorID:  10,
	}
}

func TestCreateIssue_RecordsActivityAndSubscriptions(t *testing.T) {
	repo := referenceStubRepo()
	svc := NewService(repo, nil, nil)

	assignee := int64(20)
	issue, err := svc.CreateIssue(context.Background(), 10, IssueCreateInput{
		Title:      "  Fix checkout  ",
		StatusID:   1,
		PriorityID: 1,
		AssigneeID: &assignee,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if issue.Title != "Fix checkout" {
		t.Fatalf("title = %q, want trimmed", issue.Title)
	}
	if !strings.HasPrefix(issue.Key, "ISS-") {
		t.Fatalf("key = %q, want ISS- prefix", issue.Key)
	}

	if repo.createdActivity == nil {
		t.Fatalf("expected CREATED activity")
	}
	if repo.createdActivity.Type != model.ActivityCreated {
		t.Fatalf("activity type = %q, want %q", repo.createdActivity.Type, model.ActivityCreated)
	}
	if repo.createdActivity.ActorID != 10 {
		t.Fatalf("actor = %d, want 10", repo.createdActivity.ActorID)
	}

	if len(repo.createdSubscribers) != 2 {
		t.Fatalf("subscribers = %v, want actor and assignee", repo.createdSubscribers)
	}
}

func TestCreateIssue_ActorIsAssignee(t *testing.T) {
	repo := referenceStubRepo()
	svc := NewService(repo, nil, nil)

	assignee := int64(10)
	_, err := svc.CreateIssue(context.Background(), 10, IssueCreateInput{
		Title:      "Self-assigned",
		StatusID:   1,
		PriorityID: 1,
		AssigneeID: &assignee,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.createdSubscribers) != 1 {
		t.Fatalf("subscribers = %v, want single entry", repo.createdSubscribers)
	}
}

func TestCreateIssue_WithoutActor(t *testing.T) {
	repo := referenceStubRepo()
	svc := NewService(repo, nil, nil)

	_, err := svc.CreateIssue(context.Background(), 0, IssueCreateInput{
		Title:      "Imported",
		StatusID:   1,
		PriorityID: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if repo.createdIssue == nil {
		t.Fatalf("issue must be saved even without actor")
	}
	if repo.createdActivity != nil {
		t.Fatalf("no activity expected without actor, got %v", repo.createdActivity)
	}
	if len(repo.createdSubscribers) != 0 {
		t.Fatalf("no subscriptions expected without actor, got %v", repo.createdSubscribers)
	}
}

func TestUpdateIssue_StatusChangeSnapshot(t *testing.T) {
	repo := referenceStubRepo()
	repo.issue = storedIssue()
	svc := NewService(repo, nil, nil)

	newStatus := int64(2)
	_, err := svc.UpdateIssue(context.Background(), 10, 5, IssueUpdateInput{StatusID: &newStatus})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.updatedActivities) != 1 {
		t.Fatalf("activities = %d, want 1", len(repo.updatedActivities))
	}

	a := repo.updatedActivities[0]
	if a.Type != model.ActivityStatusChanged {
		t.Fatalf("type = %q, want %q", a.Type, model.ActivityStatusChanged)
	}
	if a.OldValue["slug"] != "backlog" {
		t.Fatalf("old value = %v, want backlog snapshot", a.OldValue)
	}
	if a.NewValue["slug"] != "in-progress" {
		t.Fatalf("new value = %v, want in-progress snapshot", a.NewValue)
	}
	if a.NewValue["name"] != "In Progress" {
		t.Fatalf("new value = %v, want name snapshot", a.NewValue)
	}
}

func TestUpdateIssue_MultipleFieldsShareTimestamp(t *testing.T) {
	repo := referenceStubRepo()
	repo.issue = storedIssue()
	svc := NewService(repo, nil, nil)

	newStatus := int64(2)
	newPriority := int64(2)
	_, err := svc.UpdateIssue(context.Background(), 10, 5, IssueUpdateInput{
		StatusID:   &newStatus,
		PriorityID: &newPriority,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.updatedActivities) != 2 {
		t.Fatalf("activities = %d, want 2", len(repo.updatedActivities))
	}

	first := repo.updatedActivities[0]
	second := repo.updatedActivities[1]
	if !first.CreatedAt.Equal(second.CreatedAt) {
		t.Fatalf("activities of one update must share a timestamp: %v vs %v", first.CreatedAt, second.CreatedAt)
	}
	if first.ActorID != second.ActorID {
		t.Fatalf("activities of one update must share the actor")
	}
	if !repo.updatedIssue.UpdatedAt.Equal(first.CreatedAt) {
		t.Fatalf("issue UpdatedAt must match activity timestamps")
	}
}

func TestUpdateIssue_NoChanges(t *testing.T) {
	repo := referenceStubRepo()
	repo.issue = storedIssue()
	svc := NewService(repo, nil, nil)

	sameTitle := "Fix checkout"
	_, err := svc.UpdateIssue(context.Background(), 10, 5, IssueUpdateInput{Title: &sameTitle})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.updatedActivities) != 0 {
		t.Fatalf("same value must not produce activity, got %v", repo.updatedActivities)
	}
}

func TestUpdateIssue_WithoutActor(t *testing.T) {
	repo := referenceStubRepo()
	repo.issue = storedIssue()
	svc := NewService(repo, nil, nil)

	newStatus := int64(2)
	_, err := svc.UpdateIssue(context.Background(), 0, 5, IssueUpdateInput{StatusID: &newStatus})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if repo.updatedIssue == nil {
		t.Fatalf("update must be saved even without actor")
	}
	if repo.updatedIssue.StatusID != 2 {
		t.Fatalf("status = %d, want 2", repo.updatedIssue.StatusID)
	}
	if len(repo.updatedActivities) != 0 {
		t.Fatalf("no activities expected without actor, got %v", repo.updatedActivities)
	}
	if len(repo.updatedSubscribers) != 0 {
		t.Fatalf("no subscriptions expected without actor, got %v", repo.updatedSubscribers)
	}
}

func TestUpdateIssue_AssigneeChangeSubscribesNewAssignee(t *testing.T) {
	repo := referenceStubRepo()
	repo.issue = storedIssue()
	svc := NewService(repo, nil, nil)

	assignee := int64(20)
	_, err := svc.UpdateIssue(context.Background(), 10, 5, IssueUpdateInput{AssigneeID: &assignee})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.updatedActivities) != 1 {
		t.Fatalf("activities = %d, want 1", len(repo.updatedActivities))
	}
	a := repo.updatedActivities[0]
	if a.Type != model.ActivityAssigneeChanged {
		t.Fatalf("type = %q, want %q", a.Type, model.ActivityAssigneeChanged)
	}
	if a.OldValue != nil {
		t.Fatalf("old value = %v, want nil for previously unassigned", a.OldValue)
	}
	if a.NewValue["email"] != "bob@example.com" {
		t.Fatalf("new value = %v, want user snapshot", a.NewValue)
	}

	if len(repo.updatedSubscribers) != 1 || repo.updatedSubscribers[0] != 20 {
		t.Fatalf("subscribers = %v, want new assignee", repo.updatedSubscribers)
	}
}

func TestCollectIssueChanges(t *testing.T) {
	due := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	assignee := int64(20)

	tests := []struct {
		name    string
		old     model.Issue
		updated model.Issue
		want    []model.ActivityType
	}{
		{
			name:    "no changes",
			old:     model.Issue{Title: "a", StatusID: 1, PriorityID: 1},
			updated: model.Issue{Title: "a", StatusID: 1, PriorityID: 1},
			want:    nil,
		},
		{
			name:    "status only",
			old:     model.Issue{StatusID: 1, PriorityID: 1},
			updated: model.Issue{StatusID: 2, PriorityID: 1},
			want:    []model.ActivityType{model.ActivityStatusChanged},
		},
		{
			name:    "assignee set",
			old:     model.Issue{StatusID: 1, PriorityID: 1},
			updated: model.Issue{StatusID: 1, PriorityID: 1, AssigneeID: &assignee},
			want:    []model.ActivityType{model.ActivityAssigneeChanged},
		},
		{
			name:    "due date cleared",
			old:     model.Issue{StatusID: 1, PriorityID: 1, DueDate: &due},
			updated: model.Issue{StatusID: 1, PriorityID: 1},
			want:    []model.ActivityType{model.ActivityDueDateChanged},
		},
		{
			name:    "title and description",
			old:     model.Issue{Title: "a", Description: "x", StatusID: 1, PriorityID: 1},
			updated: model.Issue{Title: "b", Description: "y", StatusID: 1, PriorityID: 1},
			want:    []model.ActivityType{model.ActivityTitleChanged, model.ActivityDescriptionChanged},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes := collectIssueChanges(&tt.old, &tt.updated)
			if len(changes) != len(tt.want) {
				t.Fatalf("changes = %d, want %d", len(changes), len(tt.want))
			}
			for i, ch := range changes {
				if ch.activity != tt.want[i] {
					t.Fatalf("change %d = %q, want %q", i, ch.activity, tt.want[i])
				}
			}
		})
	}
}

func TestGenerateIssueKey(t *testing.T) {
	a := generateIssueKey()
	b := generateIssueKey()

	if a == b {
		t.Fatalf("keys must be unique, got %q twice", a)
	}
	if len(a) != len("ISS-")+8 {
		t.Fatalf("key %q has unexpected length", a)
	}
	if a != strings.ToUpper(a) {
		t.Fatalf("key %q must be uppercase", a)
	}
}
