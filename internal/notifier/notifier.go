package notifier

import "context"

// 通知投递目标类型
const (
	TargetRole  = "role"  // 按角色投递（角色下所有在线员工）
	TargetTopic = "topic" // 按主题投递（订阅了该主题的员工）
)

// Target 通知投递目标
type Target struct {
	Kind string `json:"kind"` // role / topic
	Name string `json:"name"` // 角色名或主题名
}

// Payload 通知内容
type Payload struct {
	Title         string            `json:"title"`
	Body          string            `json:"body"`
	EventType     string            `json:"event_type"`
	CorrelationID string            `json:"correlation_id"`
	Data          map[string]string `json:"data,omitempty"`
}

// Notifier 通知投递通道
// 实现方（MQTT/推送网关）只负责投递，路由决策由 router 完成
type Notifier interface {
	Send(ctx context.Context, tenantID string, target Target, payload Payload) error
}
