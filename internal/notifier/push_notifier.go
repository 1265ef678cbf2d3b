package notifier

import (
	"context"
	"fmt"
	"time"

	"hotel-ops/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// pushRequest 推送网关请求体
type pushRequest struct {
	TenantID   string  `json:"tenantId"`
	TargetKind string  `json:"targetKind"`
	TargetName string  `json:"targetName"`
	Payload    Payload `json:"payload"`
}

// pushResponse 推送网关响应
type pushResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

// PushNotifier 通过 HTTP 推送网关投递通知（App 离线时的兜底通道）
type PushNotifier struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewPushNotifier 创建推送网关客户端
func NewPushNotifier(cfg *config.PushConfig, logger *zap.Logger) *PushNotifier {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.Timeout) * time.Second).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &PushNotifier{
		httpClient: client,
		logger:     logger,
	}
}

// Send 调用推送网关投递通知
func (n *PushNotifier) Send(ctx context.Context, tenantID string, target Target, payload Payload) error {
	request := pushRequest{
		TenantID:   tenantID,
		TargetKind: target.Kind,
		TargetName: target.Name,
		Payload:    payload,
	}

	var response pushResponse
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		Post("/v1/notifications")

	if err != nil {
		n.logger.Error("Push gateway call failed",
			zap.String("tenant_id", tenantID),
			zap.String("target_name", target.Name),
			zap.Error(err),
		)
		return fmt.Errorf("failed to call push gateway: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("push gateway returned HTTP %d", resp.StatusCode())
	}

	if response.Status != 0 {
		return fmt.Errorf("push gateway error: %s (status: %d)", response.Msg, response.Status)
	}

	n.logger.Debug("Notification pushed",
		zap.String("tenant_id", tenantID),
		zap.String("target_kind", target.Kind),
		zap.String("target_name", target.Name),
		zap.String("correlation_id", payload.CorrelationID),
	)

	return nil
}
