// Package service реализует бизнес-логику сервиса shopwork.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/mkotelnikov/shopwork-system/internal/cache"
	"github.com/mkotelnikov/shopwork-system/internal/model"
	"github.com/mkotelnikov/shopwork-system/internal/repository"
	"github.com/mkotelnikov/shopwork-system/internal/rewards"
)

// DefaultExpiringWindowDays задаёт окно по умолчанию для расчёта скоро сгорающих баллов.
const DefaultExpiringWindowDays = 30

// ErrInvalidAmount возвращается при неположительной сумме баллов.
var (
	ErrInvalidAmount = errors.New("points amount must be positive")
	// ErrReasonRequired возвращается, если ручная корректировка не содержит причины.
	ErrReasonRequired = errors.New("adjustment reason is required")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, login, name, email string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)

	AddOrder(ctx context.Context, userID int64, number string) (bool, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetOrdersForReward(ctx context.Context, limit int) ([]repository.OrderForReward, error)
	UpdateOrderStatus(ctx context.Context, number string, status model.OrderStatus, points *int64) error

	GetOrCreateAccount(ctx context.Context, userID int64) (*model.LoyaltyAccount, error)
	Earn(ctx context.Context, userID, points int64, description string, orderNumber *string, expiresAt *time.Time) (*model.LoyaltyTransaction, error)
	Spend(ctx context.Context, userID, points int64, description string, orderNumber *string) (*model.LoyaltyTransaction, error)
	Refund(ctx context.Context, userID, points int64, description string, orderNumber *string) (*model.LoyaltyTransaction, error)
	Adjust(ctx context.Context, userID, delta int64, reason string) (*model.LoyaltyTransaction, error)
	ExpirePoints(ctx context.Context) (int, error)
	AvailablePoints(ctx context.Context, accountID int64) (int64, error)
	ExpiringPoints(ctx context.Context, accountID int64, until time.Time) (int64, error)
	GetTransactionsByUser(ctx context.Context, userID int64, limit int) ([]model.LoyaltyTransaction, error)

	CreateIssue(ctx context.Context, issue *model.Issue, activity *model.IssueActivity, subscriberIDs []int64) error
	UpdateIssue(ctx context.Context, issue *model.Issue, activities []model.IssueActivity, subscriberIDs []int64) error
	GetIssueByID(ctx context.Context, id int64) (*model.Issue, error)
	GetActivitiesByIssue(ctx context.Context, issueID int64) ([]model.IssueActivity, error)
	GetSubscribersByIssue(ctx context.Context, issueID int64) ([]int64, error)
	GetStatusByID(ctx context.Context, id int64) (*model.Status, error)
	GetPriorityByID(ctx context.Context, id int64) (*model.Priority, error)
}

// Service содержит бизнес-логику сервиса shopwork.
type Service struct {
	repo          Repository
	rewardsClient *rewards.Client
	balanceCache  *cache.BalanceCache
}

// NewService создаёт новый сервис с указанным репозиторием, клиентом системы
// вознаграждений и кэшем баланса; два последних необязательны.
func NewService(repo Repository, rewardsClient *rewards.Client, balanceCache *cache.BalanceCache) *Service {
	return &Service{
		repo:          repo,
		rewardsClient: rewardsClient,
		balanceCache:  balanceCache,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.balanceCache != nil {
		_ = s.balanceCache.Close()
	}
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password, name, email string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, name, email, hashed)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// AddOrder добавляет номер заказа пользователю.
func (s *Service) AddOrder(ctx context.Context, userID int64, number string) (bool, error) {
	return s.repo.AddOrder(ctx, userID, number)
}

// GetOrdersByUser возвращает список заказов пользователя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// Earn начисляет пользователю баллы с необязательным сроком сгорания.
func (s *Service) Earn(ctx context.Context, userID, points int64, description string, orderNumber *string, expiresAt *time.Time) (*model.LoyaltyTransaction, error) {
	if points <= 0 {
		return nil, ErrInvalidAmount
	}

	entry, err := s.repo.Earn(ctx, userID, points, description, orderNumber, expiresAt)
	if err != nil {
		return nil, err
	}

	s.balanceCache.Invalidate(ctx, entry.AccountID)
	return entry, nil
}

// Spend списывает баллы пользователя; проверка идёт по доступному балансу.
func (s *Service) Spend(ctx context.Context, userID, points int64, description string, orderNumber *string) (*model.LoyaltyTransaction, error) {
	if points <= 0 {
		return nil, ErrInvalidAmount
	}

	entry, err := s.repo.Spend(ctx, userID, points, description, orderNumber)
	if err != nil {
		return nil, err
	}

	s.balanceCache.Invalidate(ctx, entry.AccountID)
	return entry, nil
}

// Refund возвращает пользователю ранее списанные баллы.
func (s *Service) Refund(ctx context.Context, userID, points int64, description string, orderNumber *string) (*model.LoyaltyTransaction, error) {
	if points <= 0 {
		return nil, ErrInvalidAmount
	}

	entry, err := s.repo.Refund(ctx, userID, points, description, orderNumber)
	if err != nil {
		return nil, err
	}

	s.balanceCache.Invalidate(ctx, entry.AccountID)
	return entry, nil
}

// AdminAdjust применяет ручную корректировку со знаком; причина обязательна.
func (s *Service) AdminAdjust(ctx context.Context, userID, delta int64, reason string) (*model.LoyaltyTransaction, error) {
	if delta == 0 {
		return nil, ErrInvalidAmount
	}
	if reason == "" {
		return nil, ErrReasonRequired
	}

	entry, err := s.repo.Adjust(ctx, userID, delta, reason)
	if err != nil {
		return nil, err
	}

	s.balanceCache.Invalidate(ctx, entry.AccountID)
	return entry, nil
}

// ExpirePoints гасит все просроченные начисления и возвращает число обработанных записей.
// Закэшированные балансы не сбрасываются поштучно: кэш живёт меньше минуты,
// а проверка списания всегда считается заново внутри транзакции.
func (s *Service) ExpirePoints(ctx context.Context) (int, error) {
	return s.repo.ExpirePoints(ctx)
}

// GetBalance возвращает текущий, доступный и скоро сгорающий баланс пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	account, err := s.repo.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	available, ok := s.balanceCache.GetAvailable(ctx, account.ID)
	if !ok {
		available, err = s.repo.AvailablePoints(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		s.balanceCache.SetAvailable(ctx, account.ID, available)
	}

	until := time.Now().AddDate(0, 0, DefaultExpiringWindowDays)
	expiring, err := s.repo.ExpiringPoints(ctx, account.ID, until)
	if err != nil {
		return nil, err
	}

	return &model.Balance{
		Current:      account.Points,
		Available:    available,
		ExpiringSoon: expiring,
	}, nil
}

// GetTransactionsByUser возвращает последние записи журнала пользователя, новые первыми.
func (s *Service) GetTransactionsByUser(ctx context.Context, userID int64, limit int) ([]model.LoyaltyTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.GetTransactionsByUser(ctx, userID, limit)
}

// StartRewardUpdates запускает фоновый процесс получения вознаграждений за заказы.
func (s *Service) StartRewardUpdates(ctx context.Context) {
	if s.rewardsClient == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processRewardBatch(ctx)
			}
		}
	}()
}

func (s *Service) processRewardBatch(ctx context.Context) {
	orders, err := s.repo.GetOrdersForReward(ctx, 100)
	if err != nil {
		return
	}

	for _, o := range orders {
		resp, statusCode, retryAfter, err := s.rewardsClient.GetOrderReward(ctx, o.Number)
		if err != nil {
			continue
		}

		if statusCode == 0 {
			continue
		}

		if statusCode == 429 {
			if retryAfter > 0 {
				timer := time.NewTimer(retryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			continue
		}

		if resp == nil {
			continue
		}

		switch resp.Status {
		case "REGISTERED", "PROCESSING":
			_ = s.repo.UpdateOrderStatus(ctx, o.Number, model.OrderStatusProcessing, nil)
		case "INVALID":
			_ = s.repo.UpdateOrderStatus(ctx, o.Number, model.OrderStatusInvalid, nil)
		case "PROCESSED":
			s.applyOrderReward(ctx, o, resp)
		}
	}
}

// applyOrderReward помечает заказ обработанным и начисляет баллы через журнал.
func (s *Service) applyOrderReward(ctx context.Context, o repository.OrderForReward, resp *rewards.OrderReward) {
	var points int64
	if resp.Points != nil {
		points = *resp.Points
	}

	if err := s.repo.UpdateOrderStatus(ctx, o.Number, model.OrderStatusProcessed, &points); err != nil {
		return
	}

	if points <= 0 {
		return
	}

	var expiresAt *time.Time
	if resp.ExpiresInDays != nil && *resp.ExpiresInDays > 0 {
		t := time.Now().AddDate(0, 0, *resp.ExpiresInDays)
		expiresAt = &t
	}

	number := o.Number
	_, _ = s.Earn(ctx, o.UserID, points, "order reward", &number, expiresAt)
}

// StartPointsExpiry запускает периодическое гашение просроченных баллов.
func (s *Service) StartPointsExpiry(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.ExpirePoints(ctx)
			}
		}
	}()
}
