// Package main запускает HTTP-сервер сервиса shopwork.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mkotelnikov/shopwork-system/internal/cache"
	"github.com/mkotelnikov/shopwork-system/internal/config"
	"github.com/mkotelnikov/shopwork-system/internal/handler"
	"github.com/mkotelnikov/shopwork-system/internal/middleware"
	"github.com/mkotelnikov/shopwork-system/internal/repository"
	"github.com/mkotelnikov/shopwork-system/internal/rewards"
	"github.com/mkotelnikov/shopwork-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var rewardsClient *rewards.Client
	if cfg.RewardsSystemAddress != "" {
		rewardsClient = rewards.NewClient(cfg.RewardsSystemAddress)
	}

	var balanceCache *cache.BalanceCache
	if cfg.RedisAddress != "" {
		balanceCache = cache.New(cfg.RedisAddress, logger)
	}

	svc := service.NewService(repo, rewardsClient, balanceCache)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.CORSOrigin)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновое обновление статусов заказов из системы вознаграждений
	g.Go(func() error {
		svc.StartRewardUpdates(ctx)
		return nil
	})

	// Периодическое списание просроченных баллов
	g.Go(func() error {
		svc.StartPointsExpiry(ctx, cfg.ExpiryInterval)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting shopwork server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
