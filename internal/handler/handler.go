// Package handler содержит HTTP-обработчики API сервиса shopwork.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mkotelnikov/shopwork-system/internal/middleware"
	"github.com/mkotelnikov/shopwork-system/internal/model"
	"github.com/mkotelnikov/shopwork-system/internal/repository"
	"github.com/mkotelnikov/shopwork-system/internal/service"
	"github.com/mkotelnikov/shopwork-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password, name, email string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)

	AddOrder(ctx context.Context, userID int64, number string) (bool, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)

	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	Spend(ctx context.Context, userID, points int64, description string, orderNumber *string) (*model.LoyaltyTransaction, error)
	Refund(ctx context.Context, userID, points int64, description string, orderNumber *string) (*model.LoyaltyTransaction, error)
	AdminAdjust(ctx context.Context, userID, delta int64, reason string) (*model.LoyaltyTransaction, error)
	ExpirePoints(ctx context.Context) (int, error)
	GetTransactionsByUser(ctx context.Context, userID int64, limit int) ([]model.LoyaltyTransaction, error)

	CreateIssue(ctx context.Context, actorID int64, in service.IssueCreateInput) (*model.Issue, error)
	UpdateIssue(ctx context.Context, actorID, issueID int64, in service.IssueUpdateInput) (*model.Issue, error)
	GetIssue(ctx context.Context, issueID int64) (*model.Issue, error)
	GetIssueActivities(ctx context.Context, issueID int64) ([]model.IssueActivity, error)
	GetIssueSubscribers(ctx context.Context, issueID int64) ([]int64, error)
}

// Handler реализует HTTP-обработчики API сервиса shopwork.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	corsOrigin     string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, corsOrigin string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		corsOrigin:     corsOrigin,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, req.Name, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// UploadOrder принимает номер заказа для начисления баллов от текущего пользователя.
func (h *Handler) UploadOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	number := strings.TrimSpace(string(body))

	if !validation.IsValidOrderNumber(number) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	alreadyExists, err := h.service.AddOrder(r.Context(), userID, number)
	if err != nil {
		if errors.Is(err, repository.ErrOrderOwnedByAnother) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("upload order error", zap.Error(err), zap.String("order", number))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if alreadyExists {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

type orderResponse struct {
	Number     string `json:"number"`
	Status     string `json:"status"`
	Points     *int64 `json:"points,omitempty"`
	UploadedAt string `json:"uploaded_at"`
}

// GetOrders возвращает список заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, orderResponse{
			Number:     o.Number,
			Status:     string(o.Status),
			Points:     o.Points,
			UploadedAt: o.UploadedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, h.logger, resp)
}

// GetBalance возвращает баланс текущего пользователя: текущий, доступный и
// скоро сгорающий.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, balance)
}

type withdrawRequest struct {
	Order       string `json:"order"`
	Sum         int64  `json:"sum"`
	Description string `json:"description,omitempty"`
}

// Withdraw списывает баллы текущего пользователя в счёт заказа.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidOrderNumber(req.Order) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	description := req.Description
	if description == "" {
		description = "points withdrawal"
	}

	_, err := h.service.Spend(r.Context(), userID, req.Sum, description, &req.Order)
	if err != nil {
		if errors.Is(err, service.ErrInvalidAmount) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		if errors.Is(err, repository.ErrInsufficientBalance) {
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
			return
		}
		h.logger.Error("withdraw error", zap.Error(err), zap.Int64("userID", userID), zap.String("order", req.Order))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type transactionResponse struct {
	Type         string  `json:"type"`
	Points       int64   `json:"points"`
	BalanceAfter int64   `json:"balance_after"`
	Description  string  `json:"description"`
	Order        *string `json:"order,omitempty"`
	ExpiresAt    *string `json:"expires_at,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// GetTransactions возвращает историю операций с баллами текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	transactions, err := h.service.GetTransactionsByUser(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("get transactions error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(transactions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for _, t := range transactions {
		item := transactionResponse{
			Type:         string(t.Type),
			Points:       t.Points,
			BalanceAfter: t.BalanceAfter,
			Description:  t.Description,
			Order:        t.OrderNumber,
			CreatedAt:    t.CreatedAt.Format(time.RFC3339),
		}
		if t.ExpiresAt != nil {
			v := t.ExpiresAt.Format(time.RFC3339)
			item.ExpiresAt = &v
		}
		resp = append(resp, item)
	}

	writeJSON(w, h.logger, resp)
}

type adjustRequest struct {
	UserID int64  `json:"user_id"`
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

// AdminAdjust применяет ручную корректировку баллов указанного пользователя.
func (h *Handler) AdminAdjust(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserIDFromContext(r.Context()); !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	entry, err := h.service.AdminAdjust(r.Context(), req.UserID, req.Delta, req.Reason)
	if err != nil {
		if errors.Is(err, service.ErrInvalidAmount) || errors.Is(err, service.ErrReasonRequired) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("admin adjust error", zap.Error(err), zap.Int64("userID", req.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, map[string]int64{"balance_after": entry.BalanceAfter})
}

type refundRequest struct {
	UserID      int64  `json:"user_id"`
	Points      int64  `json:"points"`
	Order       string `json:"order,omitempty"`
	Description string `json:"description,omitempty"`
}

// AdminRefund возвращает пользователю ранее списанные баллы.
func (h *Handler) AdminRefund(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserIDFromContext(r.Context()); !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	description := req.Description
	if description == "" {
		description = "points refund"
	}

	var order *string
	if req.Order != "" {
		order = &req.Order
	}

	entry, err := h.service.Refund(r.Context(), req.UserID, req.Points, description, order)
	if err != nil {
		if errors.Is(err, service.ErrInvalidAmount) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.logger.Error("admin refund error", zap.Error(err), zap.Int64("userID", req.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, map[string]int64{"balance_after": entry.BalanceAfter})
}

// AdminExpirePoints запускает гашение просроченных баллов вне расписания.
func (h *Handler) AdminExpirePoints(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserIDFromContext(r.Context()); !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	processed, err := h.service.ExpirePoints(r.Context())
	if err != nil {
		h.logger.Error("expire points error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, map[string]int{"processed": processed})
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("encode response error", zap.Error(err))
	}
}
