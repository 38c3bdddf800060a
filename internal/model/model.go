// Package model содержит доменные сущности сервиса shopwork.
package model

import "time"

// User представляет зарегистрированного пользователя системы.
type User struct {
	ID           int64
	Login        string
	Name         string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// OrderStatus описывает статус обработки заказа в системе вознаграждений.
type OrderStatus string

const (
	OrderStatusNew        OrderStatus = "NEW"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusInvalid    OrderStatus = "INVALID"
	OrderStatusProcessed  OrderStatus = "PROCESSED"
)

// Order описывает заказ пользователя и начисленные за него баллы.
type Order struct {
	Number     string
	Status     OrderStatus
	Points     *int64
	UploadedAt time.Time
}

// TransactionType описывает тип записи в журнале баллов лояльности.
type TransactionType string

const (
	TransactionEarned          TransactionType = "EARNED"
	TransactionSpent           TransactionType = "SPENT"
	TransactionExpired         TransactionType = "EXPIRED"
	TransactionRefunded        TransactionType = "REFUNDED"
	TransactionAdminAdjustment TransactionType = "ADMIN_ADJUSTMENT"
)

// IsCredit сообщает, увеличивает ли запись данного типа баланс.
func (t TransactionType) IsCredit() bool {
	return t == TransactionEarned || t == TransactionRefunded || t == TransactionAdminAdjustment
}

// IsDebit сообщает, уменьшает ли запись данного типа баланс.
func (t TransactionType) IsDebit() bool {
	return t == TransactionSpent || t == TransactionExpired
}

// LoyaltyAccount представляет счёт баллов пользователя.
// Points — денормализованный текущий баланс, LifetimePoints — сумма всех
// когда-либо начисленных баллов; списания и сгорания её не уменьшают.
type LoyaltyAccount struct {
	ID             int64
	UserID         int64
	Points         int64
	LifetimePoints int64
	CreatedAt      time.Time
}

// LoyaltyTransaction — неизменяемая запись журнала баллов.
// Points хранится со знаком: дебетовые записи отрицательны.
// SourceID заполняется только у EXPIRED-записей и указывает на погашаемую
// EARNED-запись.
type LoyaltyTransaction struct {
	ID           int64
	AccountID    int64
	Type         TransactionType
	Points       int64
	BalanceAfter int64
	Description  string
	OrderNumber  *string
	ExpiresAt    *time.Time
	SourceID     *int64
	CreatedAt    time.Time
}

// Balance содержит три представления баланса пользователя.
type Balance struct {
	Current      int64 `json:"current"`
	Available    int64 `json:"available"`
	ExpiringSoon int64 `json:"expiring_soon"`
}

// Status — справочный статус задачи.
type Status struct {
	ID   int64
	Name string
	Slug string
}

// Priority — справочный приоритет задачи.
type Priority struct {
	ID   int64
	Name string
	Slug string
}

// Issue представляет задачу рабочего пространства.
type Issue struct {
	ID          int64
	Key         string
	Title       string
	Description string
	StatusID    int64
	PriorityID  int64
	AssigneeID  *int64
	DueDate     *time.Time
	CreatorID   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ActivityType описывает тип записи журнала активности задачи.
type ActivityType string

const (
	ActivityCreated            ActivityType = "CREATED"
	ActivityStatusChanged      ActivityType = "STATUS_CHANGED"
	ActivityPriorityChanged    ActivityType = "PRIORITY_CHANGED"
	ActivityAssigneeChanged    ActivityType = "ASSIGNEE_CHANGED"
	ActivityDueDateChanged     ActivityType = "DUE_DATE_CHANGED"
	ActivityTitleChanged       ActivityType = "TITLE_CHANGED"
	ActivityDescriptionChanged ActivityType = "DESCRIPTION_CHANGED"
)

// IssueActivity — неизменяемая запись журнала активности задачи.
// OldValue и NewValue — небольшие структурированные снимки значения поля
// до и после изменения; nil означает отсутствие значения.
type IssueActivity struct {
	ID        int64
	IssueID   int64
	ActorID   int64
	Type      ActivityType
	OldValue  map[string]any
	NewValue  map[string]any
	CreatedAt time.Time
}

// IssueSubscription — пара (задача, пользователь); множество, а не журнал.
type IssueSubscription struct {
	IssueID   int64
	UserID    int64
	CreatedAt time.Time
}
