package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mkotelnikov/shopwork-system/internal/model"
)

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}

// CreateIssue сохраняет задачу вместе с CREATED-записью активности и
// подписками в одной транзакции: сбой любой части отменяет сохранение целиком.
// activity может быть nil, если действие выполнено без аутентифицированного актора.
func (r *PostgresRepository) CreateIssue(ctx context.Context, issue *model.Issue, activity *model.IssueActivity, subscriberIDs []int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// creator_id NULL соответствует действию без аутентифицированного актора
	err = tx.QueryRow(ctx,
		`INSERT INTO issues (key, title, description, status_id, priority_id, assignee_id, due_date, creator_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, 0))
		 RETURNING id, created_at, updated_at`,
		issue.Key, issue.Title, issue.Description, issue.StatusID, issue.PriorityID,
		issue.AssigneeID, issue.DueDate, issue.CreatorID,
	).Scan(&issue.ID, &issue.CreatedAt, &issue.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrReferenceNotFound
		}
		return fmt.Errorf("insert issue: %w", err)
	}

	if activity != nil {
		activity.IssueID = issue.ID
		if err := insertActivity(ctx, tx, activity); err != nil {
			return err
		}
	}

	for _, userID := range subscriberIDs {
		if err := insertSubscription(ctx, tx, issue.ID, userID); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// UpdateIssue сохраняет изменённую задачу вместе с записями активности и
// новыми подписками в одной транзакции.
func (r *PostgresRepository) UpdateIssue(ctx context.Context, issue *model.Issue, activities []model.IssueActivity, subscriberIDs []int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`UPDATE issues
		 SET title = $2, description = $3, status_id = $4, priority_id = $5,
		     assignee_id = $6, due_date = $7, updated_at = $8
		 WHERE id = $1`,
		issue.ID, issue.Title, issue.Description, issue.StatusID, issue.PriorityID,
		issue.AssigneeID, issue.DueDate, issue.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrReferenceNotFound
		}
		return fmt.Errorf("update issue: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrIssueNotFound
	}

	for i := range activities {
		activities[i].IssueID = issue.ID
		if err := insertActivity(ctx, tx, &activities[i]); err != nil {
			return err
		}
	}

	for _, userID := range subscriberIDs {
		if err := insertSubscription(ctx, tx, issue.ID, userID); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func insertActivity(ctx context.Context, tx pgx.Tx, a *model.IssueActivity) error {
	err := tx.QueryRow(ctx,
		`INSERT INTO issue_activities (issue_id, actor_id, type, old_value, new_value, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		a.IssueID, a.ActorID, string(a.Type), a.OldValue, a.NewValue, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// insertSubscription идемпотентна: повторная подписка той же пары не является ошибкой.
func insertSubscription(ctx context.Context, tx pgx.Tx, issueID, userID int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO issue_subscriptions (issue_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (issue_id, user_id) DO NOTHING`,
		issueID, userID,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// GetIssueByID возвращает задачу по идентификатору.
func (r *PostgresRepository) GetIssueByID(ctx context.Context, id int64) (*model.Issue, error) {
	var i model.Issue
	err := r.pool.QueryRow(ctx,
		`SELECT id, key, title, description, status_id, priority_id, assignee_id,
		        due_date, COALESCE(creator_id, 0), created_at, updated_at
		 FROM issues WHERE id = $1`,
		id,
	).Scan(&i.ID, &i.Key, &i.Title, &i.Description, &i.StatusID, &i.PriorityID,
		&i.AssigneeID, &i.DueDate, &i.CreatorID, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIssueNotFound
		}
		return nil, fmt.Errorf("get issue: %w", err)
	}
	return &i, nil
}

// GetActivitiesByIssue возвращает журнал активности задачи в хронологическом порядке.
func (r *PostgresRepository) GetActivitiesByIssue(ctx context.Context, issueID int64) ([]model.IssueActivity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, issue_id, actor_id, type, old_value, new_value, created_at
		 FROM issue_activities
		 WHERE issue_id = $1
		 ORDER BY created_at, id`,
		issueID,
	)
	if err != nil {
		return nil, fmt.Errorf("select activities: %w", err)
	}
	defer rows.Close()

	var res []model.IssueActivity
	for rows.Next() {
		var a model.IssueActivity
		var actType string
		if err := rows.Scan(&a.ID, &a.IssueID, &a.ActorID, &actType, &a.OldValue, &a.NewValue, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Type = model.ActivityType(actType)
		res = append(res, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetSubscribersByIssue возвращает идентификаторы подписчиков задачи.
func (r *PostgresRepository) GetSubscribersByIssue(ctx context.Context, issueID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM issue_subscriptions WHERE issue_id = $1 ORDER BY user_id`,
		issueID,
	)
	if err != nil {
		return nil, fmt.Errorf("select subscribers: %w", err)
	}
	defer rows.Close()

	var res []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		res = append(res, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetStatusByID возвращает справочный статус задачи.
func (r *PostgresRepository) GetStatusByID(ctx context.Context, id int64) (*model.Status, error) {
	var s model.Status
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, slug FROM statuses WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.Slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferenceNotFound
		}
		return nil, fmt.Errorf("get status: %w", err)
	}
	return &s, nil
}

// GetPriorityByID возвращает справочный приоритет задачи.
func (r *PostgresRepository) GetPriorityByID(ctx context.Context, id int64) (*model.Priority, error) {
	var p model.Priority
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, slug FROM priorities WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferenceNotFound
		}
		return nil, fmt.Errorf("get priority: %w", err)
	}
	return &p, nil
}
