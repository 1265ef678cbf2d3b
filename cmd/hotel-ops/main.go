package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hotel-ops/internal/config"
	httpapi "hotel-ops/internal/http"
	"hotel-ops/internal/logger"
	"hotel-ops/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "hotel-ops")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建服务
	workflowService, err := service.NewWorkflowService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create workflow service",
			zap.Error(err),
		)
	}
	defer workflowService.Stop()

	// 4. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 启动看板消费循环（在 goroutine 中）
	serviceErrChan := make(chan error, 1)
	go func() {
		if err := workflowService.Start(ctx); err != nil {
			serviceErrChan <- err
		}
	}()

	// 6. 启动 HTTP 服务
	router := httpapi.NewRouter(log)
	router.RegisterWorkflowRoutes(httpapi.NewWorkflowHandler(
		workflowService.Machine(),
		workflowService.Ledger(),
		workflowService.Entities(),
		workflowService.Board(),
		log,
	))

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	go func() {
		log.Info("HTTP server listening",
			zap.String("addr", cfg.HTTP.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serviceErrChan <- err
		}
	}()

	// 7. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
		cancel()
	case err := <-serviceErrChan:
		log.Fatal("Service error",
			zap.Error(err),
		)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed",
			zap.Error(err),
		)
	}

	log.Info("Workflow service stopped")
}
