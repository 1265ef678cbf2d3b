package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hotel-ops/internal/config"
	"hotel-ops/internal/database"
	"hotel-ops/internal/engine"
	"hotel-ops/internal/ledger"
	"hotel-ops/internal/livesync"
	"hotel-ops/internal/mqtt"
	"hotel-ops/internal/notifier"
	"hotel-ops/internal/redisx"
	"hotel-ops/internal/repository"
	"hotel-ops/internal/router"
	"hotel-ops/internal/rules"

	"go.uber.org/zap"
)

// WorkflowService 工作流服务（整合各层）
type WorkflowService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redisx.Client
	mqttClient  *mqtt.Client
	logger      *zap.Logger

	// 各层组件
	entityRepo  *repository.PostgresEntityRepo
	historyRepo *repository.PostgresHistoryRepo
	auditLedger *ledger.AuditLedger
	machine     *engine.StateMachine
	notifRouter *router.NotificationRouter
	publisher   *livesync.Publisher
	watcher     *livesync.Watcher
	board       *livesync.Board
}

// NewWorkflowService 创建工作流服务
func NewWorkflowService(cfg *config.Config, logger *zap.Logger) (*WorkflowService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redisx.NewRedisClient(&cfg.Redis)
	ctx := context.Background()
	if err := redisx.Ping(ctx, redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT broker
	mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect MQTT broker: %w", err)
	}

	// 4. 创建 Repository 层
	entityRepo := repository.NewPostgresEntityRepo(db, logger)
	historyRepo := repository.NewPostgresHistoryRepo(db, logger)

	// 5. 创建审计账本和状态机引擎
	auditLedger := ledger.NewAuditLedger(historyRepo, logger)
	machine := engine.NewStateMachine(rules.NewDefaultRuleTable(), entityRepo, auditLedger, logger)

	// 6. 创建通知路由器（MQTT 实时通道 + 可选推送网关兜底）
	notifiers := []notifier.Notifier{notifier.NewMQTTNotifier(mqttClient, logger)}
	if cfg.Push.BaseURL != "" {
		notifiers = append(notifiers, notifier.NewPushNotifier(&cfg.Push, logger))
	}
	notifRouter := router.NewNotificationRouter(router.DefaultRoutingMatrix(), notifiers, logger)
	notifRouter.SetDeepLinkBase(cfg.Workflow.DeepLinkBase)
	notifRouter.SetDedupeGuard(&router.DedupeGuard{
		Client:    redisClient,
		KeyPrefix: cfg.Workflow.Dedupe.KeyPrefix,
		TTL:       time.Duration(cfg.Workflow.Dedupe.TTL) * time.Second,
	})

	// 7. 创建实时同步（快照发布 + 看板消费）
	publisher := livesync.NewPublisher(redisClient, cfg.Workflow.LiveStream, logger)
	watcher := livesync.NewWatcher(
		redisClient,
		cfg.Workflow.LiveStream,
		cfg.Workflow.ConsumerGroup,
		cfg.Workflow.ConsumerName,
		logger,
	)
	board := livesync.NewBoard()

	// 8. 注册事件消费者
	machine.AddSink(notifRouter)
	machine.AddSink(publisher)

	return &WorkflowService{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		logger:      logger,
		entityRepo:  entityRepo,
		historyRepo: historyRepo,
		auditLedger: auditLedger,
		machine:     machine,
		notifRouter: notifRouter,
		publisher:   publisher,
		watcher:     watcher,
		board:       board,
	}, nil
}

// Machine 状态机引擎（HTTP 层使用）
func (s *WorkflowService) Machine() *engine.StateMachine {
	return s.machine
}

// Ledger 审计账本（HTTP 层使用）
func (s *WorkflowService) Ledger() *ledger.AuditLedger {
	return s.auditLedger
}

// Entities 实体仓库（HTTP 层使用）
func (s *WorkflowService) Entities() repository.EntityStore {
	return s.entityRepo
}

// Board 实时看板（HTTP 层使用）
func (s *WorkflowService) Board() *livesync.Board {
	return s.board
}

// Start 启动服务（看板消费循环，阻塞直到 ctx 取消）
func (s *WorkflowService) Start(ctx context.Context) error {
	s.logger.Info("Starting workflow service",
		zap.String("live_stream", s.config.Workflow.LiveStream),
	)

	if err := s.watcher.Start(ctx, s.board.Apply); err != nil {
		return fmt.Errorf("failed to run live sync watcher: %w", err)
	}

	return nil
}

// Stop 停止服务
func (s *WorkflowService) Stop() error {
	s.logger.Info("Stopping workflow service")

	s.mqttClient.Disconnect()

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}
