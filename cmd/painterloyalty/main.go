// Package main запускает HTTP-сервер программы лояльности маляров.
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

	"github.com/mmeshcher/painter-loyalty/internal/commission"
	"github.com/mmeshcher/painter-loyalty/internal/config"
	"github.com/mmeshcher/painter-loyalty/internal/handler"
	"github.com/mmeshcher/painter-loyalty/internal/insights"
	"github.com/mmeshcher/painter-loyalty/internal/middleware"
	"github.com/mmeshcher/painter-loyalty/internal/qrcode"
	"github.com/mmeshcher/painter-loyalty/internal/repository"
	"github.com/mmeshcher/painter-loyalty/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	store, err := newStore(cfg, sugar)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithQRRenderer(qrcode.NewRenderer(cfg.QRDir)),
	}
	if cfg.InsightsAddress != "" {
		opts = append(opts, service.WithInsights(insights.NewClient(cfg.InsightsAddress)))
	}

	svc := service.NewService(store, commission.NewRate(cfg.CommissionRate), opts...)
	defer svc.Close()

	if cfg.APIKey == "" {
		sugar.Warn("API_KEY is empty, admin endpoints will reject every request")
	}

	authMiddleware := newAuthMiddleware(cfg, sugar)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.APIKey)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting painter loyalty server",
			"addr", cfg.RunAddress,
			"commissionRate", cfg.CommissionRate.String(),
			"insights", cfg.InsightsAddress != "",
		)
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

// newStore выбирает хранилище: Postgres при заданном DATABASE_URI, иначе память процесса.
func newStore(cfg *config.Config, sugar *zap.SugaredLogger) (repository.Store, error) {
	if cfg.DatabaseURI == "" {
		sugar.Warn("DATABASE_URI is empty, using in-memory store")
		return repository.NewMemoryRepository(), nil
	}

	return repository.NewPostgresRepository(cfg.DatabaseURI)
}

// newAuthMiddleware создаёт проверку cookie маляра. Без AUTH_SECRET ключ подписи
// генерируется случайно, и cookie перестают действовать после перезапуска.
func newAuthMiddleware(cfg *config.Config, sugar *zap.SugaredLogger) *middleware.AuthMiddleware {
	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, using random cookie secret; sessions will not survive restart")
	}
	return middleware.NewAuthMiddleware(cfg.AuthSecret)
}
