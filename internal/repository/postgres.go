// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mkotelnikov/shopwork-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderOwnedByAnother возвращается, если номер заказа принадлежит другому пользователю.
	ErrOrderOwnedByAnother = errors.New("order already uploaded by another user")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей доступный баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAccountNotFound возвращается, если счёт баллов не найден.
	ErrAccountNotFound = errors.New("loyalty account not found")
	// ErrIssueNotFound возвращается, если задача не найдена.
	ErrIssueNotFound = errors.New("issue not found")
	// ErrReferenceNotFound возвращается, если справочное значение (статус, приоритет) не найдено.
	ErrReferenceNotFound = errors.New("reference value not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при конфликтах сериализации, дедлоках и сетевых сбоях.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login, name, email string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, name, email, password_hash) VALUES ($1, $2, $3, $4) RETURNING id`,
		login, name, email, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, name, email, password_hash, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, name, email, password_hash, created_at FROM users WHERE id = $1`,
		id,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// AddOrder сохраняет номер заказа и возвращает признак того, что он уже существовал у пользователя.
func (r *PostgresRepository) AddOrder(ctx context.Context, userID int64, number string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`INSERT INTO orders (number, user_id, status) VALUES ($1, $2, $3) ON CONFLICT (number) DO NOTHING`,
		number, userID, string(model.OrderStatusNew),
	)
	if err != nil {
		return false, fmt.Errorf("insert order: %w", err)
	}

	inserted := cmdTag.RowsAffected() == 1

	var existingUserID int64
	err = tx.QueryRow(ctx,
		`SELECT user_id FROM orders WHERE number = $1`,
		number,
	).Scan(&existingUserID)
	if err != nil {
		return false, fmt.Errorf("select existing order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}

	if existingUserID == userID {
		return !inserted, nil
	}

	return false, ErrOrderOwnedByAnother
}

// GetOrdersByUser возвращает список заказов пользователя.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT number, status, points, uploaded_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY uploaded_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var status string
		if err := rows.Scan(&o.Number, &status, &o.Points, &o.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = model.OrderStatus(status)
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// OrderForReward описывает заказ, ожидающий решения системы вознаграждений.
type OrderForReward struct {
	Number string
	UserID int64
	Status model.OrderStatus
}

// GetOrdersForReward возвращает заказы, для которых нужно запросить вознаграждение.
func (r *PostgresRepository) GetOrdersForReward(ctx context.Context, limit int) ([]OrderForReward, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT number, user_id, status
		 FROM orders
		 WHERE status IN ($1, $2)
		 ORDER BY uploaded_at
		 LIMIT $3`,
		string(model.OrderStatusNew),
		string(model.OrderStatusProcessing),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders for reward: %w", err)
	}
	defer rows.Close()

	var res []OrderForReward
	for rows.Next() {
		var o OrderForReward
		var status string
		if err := rows.Scan(&o.Number, &o.UserID, &status); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = model.OrderStatus(status)
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateOrderStatus обновляет статус заказа и сумму начисленных за него баллов.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, number string, status model.OrderStatus, points *int64) error {
	if points == nil {
		_, err := r.pool.Exec(ctx,
			`UPDATE orders SET status = $2 WHERE number = $1`,
			number, string(status),
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		return nil
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $2, points = $3 WHERE number = $1`,
		number, string(status), *points,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	return nil
}
