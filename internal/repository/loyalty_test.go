package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mkotelnikov/shopwork-system/internal/model"
)

// Интеграционные тесты журнала баллов: выполняются против реальной базы,
// адрес которой задаётся переменной окружения DATABASE_URI.
func newTestRepository(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("DATABASE_URI")
	if dsn == "" {
		t.Skip("DATABASE_URI is not set")
	}

	repo, err := NewPostgresRepository(dsn)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})

	return repo
}

func createTestUser(t *testing.T, repo *PostgresRepository) int64 {
	t.Helper()

	login := "ledger-" + uuid.NewString()
	id, err := repo.CreateUser(context.Background(), login, "Test User", login+"@example.com", []byte("test-hash"))
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

func countByType(entries []model.LoyaltyTransaction, txType model.TransactionType) int {
	n := 0
	for _, e := range entries {
		if e.Type == txType {
			n++
		}
	}
	return n
}

func TestAvailablePoints_Formula(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	userID := createTestUser(t, repo)

	soon := time.Now().Add(48 * time.Hour)

	if _, err := repo.Earn(ctx, userID, 100, "order reward", nil, nil); err != nil {
		t.Fatalf("earn: %v", err)
	}
	if _, err := repo.Earn(ctx, userID, 50, "promo", nil, &soon); err != nil {
		t.Fatalf("earn with expiry: %v", err)
	}
	if _, err := repo.Spend(ctx, userID, 30, "purchase", nil); err != nil {
		t.Fatalf("spend: %v", err)
	}
	if _, err := repo.Adjust(ctx, userID, -20, "support correction"); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if _, err := repo.Refund(ctx, userID, 10, "cancelled purchase", nil); err != nil {
		t.Fatalf("refund: %v", err)
	}

	account, err := repo.GetOrCreateAccount(ctx, userID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}

	available, err := repo.AvailablePoints(ctx, account.ID)
	if err != nil {
		t.Fatalf("available points: %v", err)
	}
	if available != 110 {
		t.Fatalf("available = %d, want 100+50-30-20+10 = 110", available)
	}
	if account.Points != 110 {
		t.Fatalf("points = %d, want 110", account.Points)
	}
	// lifetime растёт только на кредитах: 100+50+10, корректировка и списание не в счёт
	if account.LifetimePoints != 160 {
		t.Fatalf("lifetime points = %d, want 160", account.LifetimePoints)
	}

	expiring, err := repo.ExpiringPoints(ctx, account.ID, time.Now().Add(72*time.Hour))
	if err != nil {
		t.Fatalf("expiring points: %v", err)
	}
	if expiring != 50 {
		t.Fatalf("expiring = %d, want 50", expiring)
	}

	if _, err := repo.Spend(ctx, userID, 200, "too much", nil); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("spend above available: got %v, want ErrInsufficientBalance", err)
	}
}

func TestSpend_GatedByAvailableNotRunningTotal(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	userID := createTestUser(t, repo)

	yesterday := time.Now().Add(-24 * time.Hour)
	if _, err := repo.Earn(ctx, userID, 100, "welcome bonus", nil, &yesterday); err != nil {
		t.Fatalf("earn: %v", err)
	}

	account, err := repo.GetOrCreateAccount(ctx, userID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Points != 100 {
		t.Fatalf("points = %d, want 100 before the expiry run", account.Points)
	}

	// Сгоревшее начисление исключается из доступного баланса ещё до гашения
	available, err := repo.AvailablePoints(ctx, account.ID)
	if err != nil {
		t.Fatalf("available points: %v", err)
	}
	if available != 0 {
		t.Fatalf("available = %d, want 0", available)
	}

	if _, err := repo.Spend(ctx, userID, 50, "purchase", nil); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("spend: got %v, want ErrInsufficientBalance", err)
	}

	entries, err := repo.GetTransactionsByUser(ctx, userID, 50)
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}
	if countByType(entries, model.TransactionSpent) != 0 {
		t.Fatalf("failed spend must leave no SPENT row, got %v", entries)
	}
}

func TestExpirePoints_Idempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	// Гасим хвосты предыдущих запусков, чтобы следить только за своим счётом
	if _, err := repo.ExpirePoints(ctx); err != nil {
		t.Fatalf("flush expire: %v", err)
	}

	userID := createTestUser(t, repo)

	yesterday := time.Now().Add(-24 * time.Hour)
	earned, err := repo.Earn(ctx, userID, 100, "welcome bonus", nil, &yesterday)
	if err != nil {
		t.Fatalf("earn expired: %v", err)
	}
	if _, err := repo.Earn(ctx, userID, 40, "order reward", nil, nil); err != nil {
		t.Fatalf("earn: %v", err)
	}

	processed, err := repo.ExpirePoints(ctx)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	account, err := repo.GetOrCreateAccount(ctx, userID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Points != 40 {
		t.Fatalf("points = %d, want 40 after expiry", account.Points)
	}

	available, err := repo.AvailablePoints(ctx, account.ID)
	if err != nil {
		t.Fatalf("available points: %v", err)
	}
	if available != 40 {
		t.Fatalf("available = %d, want 40 after expiry", available)
	}

	entries, err := repo.GetTransactionsByUser(ctx, userID, 50)
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}
	if countByType(entries, model.TransactionExpired) != 1 {
		t.Fatalf("want exactly one EXPIRED row, got %v", entries)
	}
	for _, e := range entries {
		if e.Type != model.TransactionExpired {
			continue
		}
		if e.Points != -100 {
			t.Fatalf("expired points = %d, want -100", e.Points)
		}
		if e.SourceID == nil || *e.SourceID != earned.ID {
			t.Fatalf("expired source = %v, want id of the earned row %d", e.SourceID, earned.ID)
		}
	}

	// Повторный запуск ничего не находит и ничего не меняет
	processed, err = repo.ExpirePoints(ctx)
	if err != nil {
		t.Fatalf("second expire: %v", err)
	}
	if processed != 0 {
		t.Fatalf("second run processed = %d, want 0", processed)
	}

	account, err = repo.GetOrCreateAccount(ctx, userID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Points != 40 {
		t.Fatalf("points = %d, want 40 unchanged after second run", account.Points)
	}

	entries, err = repo.GetTransactionsByUser(ctx, userID, 50)
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}
	if countByType(entries, model.TransactionExpired) != 1 {
		t.Fatalf("second run must not add EXPIRED rows, got %v", entries)
	}
}
