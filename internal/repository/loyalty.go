package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mkotelnikov/shopwork-system/internal/model"
)

// availableQuery считает доступный к списанию баланс: несгоревшие начисления
// плюс знаковые суммы списаний, возвратов и ручных корректировок.
// EXPIRED-записи не учитываются, т.к. погашаемые ими начисления уже
// исключены условием по expires_at.
const availableQuery = `
	SELECT COALESCE(SUM(
		CASE
			WHEN type = 'EARNED' AND (expires_at IS NULL OR expires_at > now()) THEN points
			WHEN type IN ('SPENT', 'REFUNDED', 'ADMIN_ADJUSTMENT') THEN points
			ELSE 0
		END), 0)
	FROM loyalty_transactions
	WHERE account_id = $1`

// GetOrCreateAccount возвращает счёт баллов пользователя, создавая его при первом обращении.
func (r *PostgresRepository) GetOrCreateAccount(ctx context.Context, userID int64) (*model.LoyaltyAccount, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO loyalty_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	return r.getAccountByUser(ctx, userID)
}

func (r *PostgresRepository) getAccountByUser(ctx context.Context, userID int64) (*model.LoyaltyAccount, error) {
	var a model.LoyaltyAccount
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, points, lifetime_points, created_at FROM loyalty_accounts WHERE user_id = $1`,
		userID,
	).Scan(&a.ID, &a.UserID, &a.Points, &a.LifetimePoints, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// lockAccount создаёт счёт при отсутствии и блокирует его строку до конца транзакции.
func (r *PostgresRepository) lockAccount(ctx context.Context, tx pgx.Tx, userID int64) (*model.LoyaltyAccount, error) {
	_, err := tx.Exec(ctx,
		`INSERT INTO loyalty_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	var a model.LoyaltyAccount
	err = tx.QueryRow(ctx,
		`SELECT id, user_id, points, lifetime_points, created_at
		 FROM loyalty_accounts WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&a.ID, &a.UserID, &a.Points, &a.LifetimePoints, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	return &a, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t *model.LoyaltyTransaction) error {
	err := tx.QueryRow(ctx,
		`INSERT INTO loyalty_transactions
		 (account_id, type, points, balance_after, description, order_number, expires_at, source_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		t.AccountID, string(t.Type), t.Points, t.BalanceAfter,
		t.Description, t.OrderNumber, t.ExpiresAt, t.SourceID,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// Earn начисляет баллы: добавляет EARNED-запись и увеличивает points и lifetime_points.
func (r *PostgresRepository) Earn(ctx context.Context, userID, points int64, description string, orderNumber *string, expiresAt *time.Time) (*model.LoyaltyTransaction, error) {
	return r.appendCredit(ctx, userID, points, model.TransactionEarned, description, orderNumber, expiresAt)
}

// Refund возвращает баллы за отменённую операцию: REFUNDED-запись, points и
// lifetime_points растут как при начислении, срок сгорания не назначается.
func (r *PostgresRepository) Refund(ctx context.Context, userID, points int64, description string, orderNumber *string) (*model.LoyaltyTransaction, error) {
	return r.appendCredit(ctx, userID, points, model.TransactionRefunded, description, orderNumber, nil)
}

func (r *PostgresRepository) appendCredit(ctx context.Context, userID, points int64, txType model.TransactionType, description string, orderNumber *string, expiresAt *time.Time) (*model.LoyaltyTransaction, error) {
	var result *model.LoyaltyTransaction

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		account, err := r.lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}

		entry := &model.LoyaltyTransaction{
			AccountID:    account.ID,
			Type:         txType,
			Points:       points,
			BalanceAfter: account.Points + points,
			Description:  description,
			OrderNumber:  orderNumber,
			ExpiresAt:    expiresAt,
		}
		if err := insertTransaction(ctx, tx, entry); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE loyalty_accounts SET points = points + $2, lifetime_points = lifetime_points + $2 WHERE id = $1`,
			account.ID, points,
		)
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Spend списывает баллы. Проверка идёт по доступному балансу с учётом сроков
// сгорания, а не по колонке points; при нехватке возвращается ErrInsufficientBalance,
// журнал и счёт остаются без изменений.
func (r *PostgresRepository) Spend(ctx context.Context, userID, points int64, description string, orderNumber *string) (*model.LoyaltyTransaction, error) {
	var result *model.LoyaltyTransaction

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		account, err := r.lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}

		var available int64
		if err := tx.QueryRow(ctx, availableQuery, account.ID).Scan(&available); err != nil {
			return fmt.Errorf("sum available: %w", err)
		}

		if points > available {
			return ErrInsufficientBalance
		}

		entry := &model.LoyaltyTransaction{
			AccountID:    account.ID,
			Type:         model.TransactionSpent,
			Points:       -points,
			BalanceAfter: account.Points - points,
			Description:  description,
			OrderNumber:  orderNumber,
		}
		if err := insertTransaction(ctx, tx, entry); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE loyalty_accounts SET points = points - $2 WHERE id = $1`,
			account.ID, points,
		)
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Adjust применяет ручную корректировку со знаком; lifetime_points не меняется.
func (r *PostgresRepository) Adjust(ctx context.Context, userID, delta int64, reason string) (*model.LoyaltyTransaction, error) {
	var result *model.LoyaltyTransaction

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		account, err := r.lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}

		entry := &model.LoyaltyTransaction{
			AccountID:    account.ID,
			Type:         model.TransactionAdminAdjustment,
			Points:       delta,
			BalanceAfter: account.Points + delta,
			Description:  reason,
		}
		if err := insertTransaction(ctx, tx, entry); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE loyalty_accounts SET points = points + $2 WHERE id = $1`,
			account.ID, delta,
		)
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExpirePoints гасит просроченные начисления: для каждой EARNED-записи с
// истёкшим expires_at и без EXPIRED-записи с её source_id добавляется
// погашающая EXPIRED-запись и уменьшается баланс счёта. Операция выполняется
// в одной транзакции и идемпотентна. Возвращает число обработанных записей.
func (r *PostgresRepository) ExpirePoints(ctx context.Context) (int, error) {
	var processed int

	err := r.withRetry(ctx, func() error {
		processed = 0

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx,
			`SELECT t.id, t.account_id, t.points
			 FROM loyalty_transactions t
			 WHERE t.type = 'EARNED'
			   AND t.expires_at IS NOT NULL
			   AND t.expires_at <= now()
			   AND NOT EXISTS (
				   SELECT 1 FROM loyalty_transactions e
				   WHERE e.type = 'EXPIRED' AND e.source_id = t.id
			   )
			 ORDER BY t.account_id, t.id`,
		)
		if err != nil {
			return fmt.Errorf("select expired earnings: %w", err)
		}

		type expiredEarning struct {
			id        int64
			accountID int64
			points    int64
		}

		var earnings []expiredEarning
		for rows.Next() {
			var e expiredEarning
			if err := rows.Scan(&e.id, &e.accountID, &e.points); err != nil {
				rows.Close()
				return fmt.Errorf("scan expired earning: %w", err)
			}
			earnings = append(earnings, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		for _, e := range earnings {
			var balance int64
			err := tx.QueryRow(ctx,
				`SELECT points FROM loyalty_accounts WHERE id = $1 FOR UPDATE`,
				e.accountID,
			).Scan(&balance)
			if err != nil {
				return fmt.Errorf("lock account: %w", err)
			}

			sourceID := e.id
			entry := &model.LoyaltyTransaction{
				AccountID:    e.accountID,
				Type:         model.TransactionExpired,
				Points:       -e.points,
				BalanceAfter: balance - e.points,
				Description:  "points expired",
				SourceID:     &sourceID,
			}
			if err := insertTransaction(ctx, tx, entry); err != nil {
				return err
			}

			_, err = tx.Exec(ctx,
				`UPDATE loyalty_accounts SET points = points - $2 WHERE id = $1`,
				e.accountID, e.points,
			)
			if err != nil {
				return fmt.Errorf("update account: %w", err)
			}

			processed++
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return processed, nil
}

// AvailablePoints возвращает доступный к списанию баланс счёта.
func (r *PostgresRepository) AvailablePoints(ctx context.Context, accountID int64) (int64, error) {
	var available int64
	if err := r.pool.QueryRow(ctx, availableQuery, accountID).Scan(&available); err != nil {
		return 0, fmt.Errorf("sum available: %w", err)
	}
	return available, nil
}

// ExpiringPoints возвращает сумму начислений, сгорающих до указанного момента.
func (r *PostgresRepository) ExpiringPoints(ctx context.Context, accountID int64, until time.Time) (int64, error) {
	var expiring int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(points), 0)
		 FROM loyalty_transactions
		 WHERE account_id = $1
		   AND type = 'EARNED'
		   AND expires_at > now()
		   AND expires_at <= $2`,
		accountID, until,
	).Scan(&expiring)
	if err != nil {
		return 0, fmt.Errorf("sum expiring: %w", err)
	}
	return expiring, nil
}

// GetTransactionsByUser возвращает последние записи журнала пользователя, новые первыми.
func (r *PostgresRepository) GetTransactionsByUser(ctx context.Context, userID int64, limit int) ([]model.LoyaltyTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT t.id, t.account_id, t.type, t.points, t.balance_after,
		        t.description, t.order_number, t.expires_at, t.source_id, t.created_at
		 FROM loyalty_transactions t
		 JOIN loyalty_accounts a ON a.id = t.account_id
		 WHERE a.user_id = $1
		 ORDER BY t.created_at DESC, t.id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.LoyaltyTransaction
	for rows.Next() {
		var t model.LoyaltyTransaction
		var txType string
		if err := rows.Scan(&t.ID, &t.AccountID, &txType, &t.Points, &t.BalanceAfter,
			&t.Description, &t.OrderNumber, &t.ExpiresAt, &t.SourceID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = model.TransactionType(txType)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
