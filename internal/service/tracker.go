package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mkotelnikov/shopwork-system/internal/model"
)

// fieldKind определяет способ форматирования значения отслеживаемого поля.
type fieldKind int

const (
	fieldStatus fieldKind = iota
	fieldPriority
	fieldAssignee
	fieldDate
	fieldScalar
)

// fieldChange описывает изменение одного отслеживаемого поля задачи:
// тег вида поля плюс сырые значения до и после.
type fieldChange struct {
	kind     fieldKind
	activity model.ActivityType
	oldRaw   any
	newRaw   any
}

// IssueCreateInput описывает данные для создания задачи.
type IssueCreateInput struct {
	Title       string
	Description string
	StatusID    int64
	PriorityID  int64
	AssigneeID  *int64
	DueDate     *time.Time
}

// IssueUpdateInput описывает частичное изменение задачи. Nil-поля не меняются;
// ClearAssignee и ClearDueDate снимают значение.
type IssueUpdateInput struct {
	Title         *string
	Description   *string
	StatusID      *int64
	PriorityID    *int64
	AssigneeID    *int64
	ClearAssignee bool
	DueDate       *time.Time
	ClearDueDate  bool
}

// CreateIssue сохраняет новую задачу. При наличии аутентифицированного актора
// (actorID > 0) записывается CREATED-активность, актор и назначенный
// исполнитель подписываются на задачу; без актора задача сохраняется без
// активности и подписок.
func (s *Service) CreateIssue(ctx context.Context, actorID int64, in IssueCreateInput) (*model.Issue, error) {
	issue := &model.Issue{
		Key:         generateIssueKey(),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		StatusID:    in.StatusID,
		PriorityID:  in.PriorityID,
		AssigneeID:  in.AssigneeID,
		DueDate:     in.DueDate,
		CreatorID:   actorID,
	}

	var activity *model.IssueActivity
	var subscribers []int64

	if actorID > 0 {
		activity = &model.IssueActivity{
			ActorID: actorID,
			Type:    model.ActivityCreated,
			NewValue: map[string]any{
				"title": issue.Title,
				"key":   issue.Key,
			},
			CreatedAt: time.Now().UTC(),
		}

		subscribers = append(subscribers, actorID)
		if issue.AssigneeID != nil && *issue.AssigneeID != actorID {
			subscribers = append(subscribers, *issue.AssigneeID)
		}
	}

	if err := s.repo.CreateIssue(ctx, issue, activity, subscribers); err != nil {
		return nil, err
	}

	return issue, nil
}

// UpdateIssue применяет частичное изменение задачи. Для каждого изменившегося
// отслеживаемого поля записывается активность со снимками значения до и после;
// запись активности и подписок разделяет транзакцию сохранения задачи.
func (s *Service) UpdateIssue(ctx context.Context, actorID, issueID int64, in IssueUpdateInput) (*model.Issue, error) {
	old, err := s.repo.GetIssueByID(ctx, issueID)
	if err != nil {
		return nil, err
	}

	updated := *old
	applyIssuePatch(&updated, in)

	ts := time.Now().UTC()
	updated.UpdatedAt = ts

	var activities []model.IssueActivity
	var subscribers []int64

	if actorID > 0 {
		changes := collectIssueChanges(old, &updated)

		for _, ch := range changes {
			oldValue, err := s.formatFieldValue(ctx, ch.kind, ch.oldRaw)
			if err != nil {
				return nil, err
			}
			newValue, err := s.formatFieldValue(ctx, ch.kind, ch.newRaw)
			if err != nil {
				return nil, err
			}

			activities = append(activities, model.IssueActivity{
				ActorID:   actorID,
				Type:      ch.activity,
				OldValue:  oldValue,
				NewValue:  newValue,
				CreatedAt: ts,
			})
		}

		if assigneeChanged(old.AssigneeID, updated.AssigneeID) && updated.AssigneeID != nil {
			subscribers = append(subscribers, *updated.AssigneeID)
		}
	}

	if err := s.repo.UpdateIssue(ctx, &updated, activities, subscribers); err != nil {
		return nil, err
	}

	return &updated, nil
}

// GetIssue возвращает задачу по идентификатору.
func (s *Service) GetIssue(ctx context.Context, issueID int64) (*model.Issue, error) {
	return s.repo.GetIssueByID(ctx, issueID)
}

// GetIssueActivities возвращает журнал активности задачи в хронологическом порядке.
func (s *Service) GetIssueActivities(ctx context.Context, issueID int64) ([]model.IssueActivity, error) {
	if _, err := s.repo.GetIssueByID(ctx, issueID); err != nil {
		return nil, err
	}
	return s.repo.GetActivitiesByIssue(ctx, issueID)
}

// GetIssueSubscribers возвращает идентификаторы подписчиков задачи.
func (s *Service) GetIssueSubscribers(ctx context.Context, issueID int64) ([]int64, error) {
	if _, err := s.repo.GetIssueByID(ctx, issueID); err != nil {
		return nil, err
	}
	return s.repo.GetSubscribersByIssue(ctx, issueID)
}

func applyIssuePatch(issue *model.Issue, in IssueUpdateInput) {
	if in.Title != nil {
		issue.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		issue.Description = strings.TrimSpace(*in.Description)
	}
	if in.StatusID != nil {
		issue.StatusID = *in.StatusID
	}
	if in.PriorityID != nil {
		issue.PriorityID = *in.PriorityID
	}
	if in.ClearAssignee {
		issue.AssigneeID = nil
	} else if in.AssigneeID != nil {
		id := *in.AssigneeID
		issue.AssigneeID = &id
	}
	if in.ClearDueDate {
		issue.DueDate = nil
	} else if in.DueDate != nil {
		d := *in.DueDate
		issue.DueDate = &d
	}
}

// collectIssueChanges сравнивает сохранённое и новое состояние задачи по
// фиксированному набору отслеживаемых полей.
func collectIssueChanges(old, updated *model.Issue) []fieldChange {
	var changes []fieldChange

	if old.StatusID != updated.StatusID {
		changes = append(changes, fieldChange{
			kind:     fieldStatus,
			activity: model.ActivityStatusChanged,
			oldRaw:   old.StatusID,
			newRaw:   updated.StatusID,
		})
	}

	if old.PriorityID != updated.PriorityID {
		changes = append(changes, fieldChange{
			kind:     fieldPriority,
			activity: model.ActivityPriorityChanged,
			oldRaw:   old.PriorityID,
			newRaw:   updated.PriorityID,
		})
	}

	if assigneeChanged(old.AssigneeID, updated.AssigneeID) {
		changes = append(changes, fieldChange{
			kind:     fieldAssignee,
			activity: model.ActivityAssigneeChanged,
			oldRaw:   optionalID(old.AssigneeID),
			newRaw:   optionalID(updated.AssigneeID),
		})
	}

	if !equalDates(old.DueDate, updated.DueDate) {
		changes = append(changes, fieldChange{
			kind:     fieldDate,
			activity: model.ActivityDueDateChanged,
			oldRaw:   optionalDate(old.DueDate),
			newRaw:   optionalDate(updated.DueDate),
		})
	}

	if old.Title != updated.Title {
		changes = append(changes, fieldChange{
			kind:     fieldScalar,
			activity: model.ActivityTitleChanged,
			oldRaw:   old.Title,
			newRaw:   updated.Title,
		})
	}

	if old.Description != updated.Description {
		changes = append(changes, fieldChange{
			kind:     fieldScalar,
			activity: model.ActivityDescriptionChanged,
			oldRaw:   old.Description,
			newRaw:   updated.Description,
		})
	}

	return changes
}

// formatFieldValue превращает сырое значение поля в структурированный снимок.
// Справочные поля разворачиваются в снимки на момент записи, а не на момент
// исходного назначения.
func (s *Service) formatFieldValue(ctx context.Context, kind fieldKind, raw any) (map[string]any, error) {
	if raw == nil {
		return nil, nil
	}

	switch kind {
	case fieldStatus:
		status, err := s.repo.GetStatusByID(ctx, raw.(int64))
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": status.ID, "name": status.Name, "slug": status.Slug}, nil
	case fieldPriority:
		priority, err := s.repo.GetPriorityByID(ctx, raw.(int64))
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": priority.ID, "name": priority.Name, "slug": priority.Slug}, nil
	case fieldAssignee:
		user, err := s.repo.GetUserByID(ctx, raw.(int64))
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": user.ID, "name": user.Name, "email": user.Email}, nil
	case fieldDate:
		return map[string]any{"date": raw.(time.Time).Format("2006-01-02")}, nil
	default:
		return map[string]any{"value": raw}, nil
	}
}

func assigneeChanged(old, updated *int64) bool {
	if old == nil && updated == nil {
		return false
	}
	if old == nil || updated == nil {
		return true
	}
	return *old != *updated
}

func equalDates(old, updated *time.Time) bool {
	if old == nil && updated == nil {
		return true
	}
	if old == nil || updated == nil {
		return false
	}
	return old.Equal(*updated)
}

// optionalID переводит *int64 в any, сохраняя nil для отсутствующего значения.
func optionalID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func optionalDate(d *time.Time) any {
	if d == nil {
		return nil
	}
	return *d
}

func generateIssueKey() string {
	return "ISS-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
