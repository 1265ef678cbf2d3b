package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"hotel-ops/internal/mqtt"

	"go.uber.org/zap"
)

// MQTTNotifier 通过 MQTT broker 投递通知
// 员工端 App 按角色/主题订阅：hotel/notify/{tenant_id}/{kind}/{name}
type MQTTNotifier struct {
	client *mqtt.Client
	logger *zap.Logger
}

// NewMQTTNotifier 创建 MQTT 通知投递器
func NewMQTTNotifier(client *mqtt.Client, logger *zap.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		client: client,
		logger: logger,
	}
}

// Send 发布通知到目标对应的 MQTT 主题
func (n *MQTTNotifier) Send(ctx context.Context, tenantID string, target Target, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	topic := fmt.Sprintf("hotel/notify/%s/%s/%s", tenantID, target.Kind, target.Name)
	if err := n.client.Publish(topic, 1, false, body); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	n.logger.Debug("Notification published",
		zap.String("tenant_id", tenantID),
		zap.String("topic", topic),
		zap.String("event_type", payload.EventType),
		zap.String("correlation_id", payload.CorrelationID),
	)

	return nil
}
