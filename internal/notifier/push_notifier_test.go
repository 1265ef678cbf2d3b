package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"hotel-ops/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testPayload() Payload {
	return Payload{
		Title:         "room.cleaning_requested",
		Body:          "101: need_cleaning",
		EventType:     "room.cleaning_requested",
		CorrelationID: "corr-1",
		Data:          map[string]string{"entity_id": "room-1"},
	}
}

func TestPushNotifier_Send(t *testing.T) {
	var received pushRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/notifications", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pushResponse{Status: 0, Msg: "ok"})
	}))
	defer server.Close()

	n := NewPushNotifier(&config.PushConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 5,
	}, zap.NewNop())

	target := Target{Kind: TargetRole, Name: "housekeeper"}
	require.NoError(t, n.Send(context.Background(), "tenant-1", target, testPayload()))

	assert.Equal(t, "tenant-1", received.TenantID)
	assert.Equal(t, TargetRole, received.TargetKind)
	assert.Equal(t, "housekeeper", received.TargetName)
	assert.Equal(t, "corr-1", received.Payload.CorrelationID)
}

func TestPushNotifier_GatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pushResponse{Status: 1001, Msg: "unknown target"})
	}))
	defer server.Close()

	n := NewPushNotifier(&config.PushConfig{BaseURL: server.URL, Timeout: 5}, zap.NewNop())

	err := n.Send(context.Background(), "tenant-1", Target{Kind: TargetTopic, Name: "inventory"}, testPayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target")
}

func TestPushNotifier_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := NewPushNotifier(&config.PushConfig{BaseURL: server.URL, Timeout: 5}, zap.NewNop())

	err := n.Send(context.Background(), "tenant-1", Target{Kind: TargetRole, Name: "manager"}, testPayload())
	require.Error(t, err)
}
