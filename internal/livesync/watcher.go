package livesync

import (
	"context"
	"encoding/json"
	"fmt"

	"hotel-ops/internal/redisx"

	"go.uber.org/zap"
)

// SnapshotHandler 快照处理函数
type SnapshotHandler func(ctx context.Context, snapshot *EntitySnapshot) error

// Watcher 快照消费者（消费者组方式消费实体快照流）
type Watcher struct {
	client        *redisx.Client
	stream        string
	consumerGroup string
	consumerName  string
	logger        *zap.Logger
}

// NewWatcher 创建快照消费者
func NewWatcher(client *redisx.Client, stream, consumerGroup, consumerName string, logger *zap.Logger) *Watcher {
	return &Watcher{
		client:        client,
		stream:        stream,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
		logger:        logger,
	}
}

// Start 启动消费循环，阻塞直到 ctx 取消
func (w *Watcher) Start(ctx context.Context, handler SnapshotHandler) error {
	if err := redisx.CreateConsumerGroup(ctx, w.client, w.stream, w.consumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	w.logger.Info("Live sync watcher started",
		zap.String("stream", w.stream),
		zap.String("consumer_group", w.consumerGroup),
		zap.String("consumer", w.consumerName),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Live sync watcher stopped")
			return nil
		default:
		}

		messages, err := redisx.ReadFromStream(ctx, w.client, w.stream, w.consumerGroup, w.consumerName, 16)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Live sync watcher stopped")
				return nil
			}
			w.logger.Error("Failed to read entity snapshots",
				zap.String("stream", w.stream),
				zap.Error(err),
			)
			continue
		}

		for _, msg := range messages {
			if err := w.process(ctx, msg, handler); err != nil {
				w.logger.Error("Failed to process entity snapshot",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
				// 继续处理后续消息，不中断
				continue
			}
			if err := redisx.AckMessage(ctx, w.client, w.stream, w.consumerGroup, msg.ID); err != nil {
				w.logger.Warn("Failed to ack snapshot message",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
			}
		}
	}
}

func (w *Watcher) process(ctx context.Context, msg redisx.StreamMessage, handler SnapshotHandler) error {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		// 消费者组初始化时可能残留占位消息，直接跳过
		return nil
	}

	var snapshot EntitySnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	snapshot.StreamID = msg.ID

	return handler(ctx, &snapshot)
}
