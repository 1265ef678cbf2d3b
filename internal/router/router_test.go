package router

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"hotel-ops/internal/models"
	"hotel-ops/internal/notifier"
	"hotel-ops/internal/redisx"
	"hotel-ops/internal/rules"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeNotifier 记录投递调用，可针对单个目标注入失败
type fakeNotifier struct {
	mu       sync.Mutex
	sent     []notifier.Target
	payloads []notifier.Payload
	failFor  map[string]bool // target name → 是否失败
	failAll  bool
}

func (f *fakeNotifier) Send(_ context.Context, _ string, target notifier.Target, payload notifier.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failFor[target.Name] {
		return fmt.Errorf("broker unavailable")
	}
	f.sent = append(f.sent, target)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeNotifier) targets() []notifier.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notifier.Target(nil), f.sent...)
}

func (f *fakeNotifier) lastPayload() notifier.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[len(f.payloads)-1]
}

func strPtr(s string) *string { return &s }

func stateChangeEvent(kind, from, to string) *models.TransitionEvent {
	return &models.TransitionEvent{
		TenantID:      "tenant-1",
		EntityID:      "entity-1",
		EntityKind:    kind,
		EntityName:    "101",
		SubType:       models.SubTypeStateChange,
		FromState:     from,
		ToState:       to,
		Actor:         models.Actor{ID: "staff-1", Name: "Ana", Role: models.RoleHousekeeper},
		Timestamp:     time.Now(),
		CorrelationID: "corr-1",
	}
}

// ============================================
// 事件类型推导
// ============================================

func TestResolveEventTypes_Room(t *testing.T) {
	cases := []struct {
		from, to string
		want     string
	}{
		{models.RoomOccupied, models.RoomNeedCleaning, EventRoomCleaningRequested},
		{models.RoomNeedCleaning, models.RoomCleaningCheckout, EventRoomCleaningStarted},
		{models.RoomCleaningOccupied, models.RoomCleanOccupied, EventRoomReady},
		{models.RoomInspection, models.RoomAvailable, EventRoomReady},
		{models.RoomCleaningCheckout, models.RoomInspection, EventRoomInspectionRequested},
		{models.RoomAvailable, models.RoomOccupied, EventRoomOccupied},
		{models.RoomOccupied, models.RoomMaintenance, EventRoomMaintenance},
	}
	for _, c := range cases {
		types := ResolveEventTypes(stateChangeEvent(models.KindRoom, c.from, c.to))
		require.Len(t, types, 1, "%s → %s", c.from, c.to)
		assert.Equal(t, c.want, types[0])
	}
}

func TestResolveEventTypes_AssetActiveDependsOnOrigin(t *testing.T) {
	fromMaintenance := ResolveEventTypes(stateChangeEvent(models.KindAsset, models.AssetMaintenance, models.AssetActive))
	require.Len(t, fromMaintenance, 1)
	assert.Equal(t, EventAssetMaintenanceCompleted, fromMaintenance[0])

	fromPending := ResolveEventTypes(stateChangeEvent(models.KindAsset, models.AssetPending, models.AssetActive))
	require.Len(t, fromPending, 1)
	assert.Equal(t, EventAssetActivated, fromPending[0])
}

func TestResolveEventTypes_Relocation(t *testing.T) {
	event := stateChangeEvent(models.KindAsset, models.AssetActive, models.AssetActive)
	event.SubType = models.SubTypeRelocation
	types := ResolveEventTypes(event)
	require.Len(t, types, 1)
	assert.Equal(t, EventAssetRelocated, types[0])
}

func TestResolveEventTypes_HighPriorityMaintenanceRequest(t *testing.T) {
	event := stateChangeEvent(models.KindRequest, "", models.RequestPending)
	event.SubType = models.SubTypeCreated
	event.Category = strPtr(models.CategoryMaintenance)
	event.Priority = strPtr(models.PriorityHigh)

	types := ResolveEventTypes(event)
	require.Len(t, types, 2)
	assert.Equal(t, "request.maintenance", types[0])
	assert.Equal(t, EventMaintenanceHighPriority, types[1])

	// normal 优先级只有一个事件类型
	event.Priority = strPtr(models.PriorityNormal)
	assert.Len(t, ResolveEventTypes(event), 1)
}

// 高优先级维修请求在后续每次状态变更时都要附带主管事件
func TestResolveEventTypes_HighPriorityFollowsRequestLifecycle(t *testing.T) {
	cases := []struct {
		from, to string
		base     string
	}{
		{models.RequestPending, models.RequestAssigned, EventRequestAssigned},
		{models.RequestAssigned, models.RequestInProgress, EventRequestInProgress},
		{models.RequestInProgress, models.RequestCompleted, EventRequestCompleted},
	}
	for _, c := range cases {
		event := stateChangeEvent(models.KindRequest, c.from, c.to)
		event.Category = strPtr(models.CategoryMaintenance)
		event.Priority = strPtr(models.PriorityHigh)

		types := ResolveEventTypes(event)
		require.Len(t, types, 2, "%s → %s", c.from, c.to)
		assert.Equal(t, c.base, types[0])
		assert.Equal(t, EventMaintenanceHighPriority, types[1])

		// normal 优先级不触发主管事件
		event.Priority = strPtr(models.PriorityNormal)
		assert.Len(t, ResolveEventTypes(event), 1)
	}

	// 非 maintenance 类别不触发主管事件
	event := stateChangeEvent(models.KindRequest, models.RequestPending, models.RequestAssigned)
	event.Category = strPtr(models.CategoryTowel)
	event.Priority = strPtr(models.PriorityHigh)
	assert.Len(t, ResolveEventTypes(event), 1)
}

// 每个可达目标状态都必须推导出有路由规则的事件类型
func TestRoutingCompleteness(t *testing.T) {
	table := rules.NewDefaultRuleTable()
	matrix := DefaultRoutingMatrix()

	for _, kind := range []string{models.KindRoom, models.KindAsset, models.KindRequest} {
		for _, to := range table.ReachableTargets(kind) {
			var froms []string
			for _, from := range models.ValidStates(kind) {
				if from != to {
					froms = append(froms, from)
				}
			}
			for _, from := range froms {
				event := stateChangeEvent(kind, from, to)
				types := ResolveEventTypes(event)
				// pending 只是创建初始态，没有 state_change 进入路径
				if kind == models.KindRequest && to == models.RequestPending {
					continue
				}
				require.NotEmpty(t, types, "kind=%s from=%s to=%s resolves to no event", kind, from, to)
				for _, eventType := range types {
					assert.True(t, matrix.HasRule(eventType),
						"no routing rule for %s (kind=%s to=%s)", eventType, kind, to)
				}
			}
		}
	}

	// 创建事件与请求类别也全部有规则
	for _, category := range []string{
		models.CategoryMaintenance, models.CategoryTowel, models.CategoryAmenity,
		models.CategoryDND, models.CategoryGuestMessage,
	} {
		assert.True(t, matrix.HasRule("request."+category), "no routing rule for request.%s", category)
	}
	assert.True(t, matrix.HasRule(EventRoomCreated))
	assert.True(t, matrix.HasRule(EventAssetCreated))
	assert.True(t, matrix.HasRule(EventMaintenanceHighPriority))
}

// ============================================
// 扇出与失败隔离
// ============================================

func TestRoute_FansOutToAllTargets(t *testing.T) {
	fake := &fakeNotifier{}
	r := NewNotificationRouter(DefaultRoutingMatrix(), []notifier.Notifier{fake}, zap.NewNop())

	outcome, err := r.Route(context.Background(), stateChangeEvent(models.KindRoom, models.RoomOccupied, models.RoomNeedCleaning))
	require.NoError(t, err)
	require.Len(t, outcome.Deliveries, 2) // housekeeper + reception

	roles := make(map[string]bool)
	for _, d := range outcome.Deliveries {
		assert.Equal(t, DeliveryDelivered, d.Status)
		roles[d.Target.Name] = true
	}
	assert.True(t, roles[models.RoleHousekeeper])
	assert.True(t, roles[models.RoleReception])
}

func TestRoute_SingleTargetFailureIsIsolated(t *testing.T) {
	fake := &fakeNotifier{failFor: map[string]bool{models.RoleHousekeeper: true}}
	r := NewNotificationRouter(DefaultRoutingMatrix(), []notifier.Notifier{fake}, zap.NewNop())

	outcome, err := r.Route(context.Background(), stateChangeEvent(models.KindRoom, models.RoomOccupied, models.RoomNeedCleaning))
	require.NoError(t, err)
	require.Len(t, outcome.Deliveries, 2)

	statuses := make(map[string]string)
	for _, d := range outcome.Deliveries {
		statuses[d.Target.Name] = d.Status
	}
	assert.Equal(t, DeliveryFailed, statuses[models.RoleHousekeeper])
	assert.Equal(t, DeliveryDelivered, statuses[models.RoleReception])
}

func TestRoute_PayloadCarriesDeepLink(t *testing.T) {
	fake := &fakeNotifier{}
	r := NewNotificationRouter(DefaultRoutingMatrix(), []notifier.Notifier{fake}, zap.NewNop())

	_, err := r.Route(context.Background(), stateChangeEvent(models.KindRoom, models.RoomOccupied, models.RoomNeedCleaning))
	require.NoError(t, err)
	assert.Equal(t, "hotelops://entities/entity-1", fake.lastPayload().Data["url"])

	// 可配置的前缀（末尾斜杠被归一化）
	r.SetDeepLinkBase("https://ops.example.com/entities/")
	_, err = r.Route(context.Background(), stateChangeEvent(models.KindRoom, models.RoomNeedCleaning, models.RoomCleaningCheckout))
	require.NoError(t, err)
	assert.Equal(t, "https://ops.example.com/entities/entity-1", fake.lastPayload().Data["url"])
}

// 双通道投递：任一通道送达即 delivered，全部失败才 failed
func TestRoute_MultiChannelAggregation(t *testing.T) {
	healthy := &fakeNotifier{}
	broken := &fakeNotifier{failAll: true}
	r := NewNotificationRouter(DefaultRoutingMatrix(), []notifier.Notifier{healthy, broken}, zap.NewNop())

	outcome, err := r.Route(context.Background(), stateChangeEvent(models.KindRoom, models.RoomOccupied, models.RoomNeedCleaning))
	require.NoError(t, err)
	require.NotEmpty(t, outcome.Deliveries)
	for _, d := range outcome.Deliveries {
		assert.Equal(t, DeliveryDelivered, d.Status)
		assert.NotEmpty(t, d.Error) // 失败通道的错误保留下来
	}

	// 所有通道都失败
	r = NewNotificationRouter(DefaultRoutingMatrix(), []notifier.Notifier{broken, &fakeNotifier{failAll: true}}, zap.NewNop())
	outcome, err = r.Route(context.Background(), stateChangeEvent(models.KindRoom, models.RoomOccupied, models.RoomNeedCleaning))
	require.NoError(t, err)
	for _, d := range outcome.Deliveries {
		assert.Equal(t, DeliveryFailed, d.Status)
	}
}

func TestRoute_HighPriorityGetsSecondDispatch(t *testing.T) {
	fake := &fakeNotifier{}
	r := NewNotificationRouter(DefaultRoutingMatrix(), []notifier.Notifier{fake}, zap.NewNop())

	event := stateChangeEvent(models.KindRequest, "", models.RequestPending)
	event.SubType = models.SubTypeCreated
	event.Category = strPtr(models.CategoryMaintenance)
	event.Priority = strPtr(models.PriorityHigh)

	outcome, err := r.Route(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, outcome.EventTypes, 2)

	// request.maintenance → maintenance+manager；高优先级 → manager+主管主题
	var supervisorTopic bool
	for _, d := range outcome.Deliveries {
		if d.Target.Kind == notifier.TargetTopic && d.Target.Name == "maintenance-supervisors" {
			supervisorTopic = true
		}
	}
	assert.True(t, supervisorTopic)
	assert.Len(t, outcome.Deliveries, 4)
}

func TestRoute_NoEventTypeNoDeliveries(t *testing.T) {
	fake := &fakeNotifier{}
	r := NewNotificationRouter(DefaultRoutingMatrix(), []notifier.Notifier{fake}, zap.NewNop())

	// 未知子类型不产生事件
	event := stateChangeEvent(models.KindRoom, models.RoomOccupied, models.RoomNeedCleaning)
	event.SubType = "unknown"

	outcome, err := r.Route(context.Background(), event)
	require.NoError(t, err)
	assert.Empty(t, outcome.EventTypes)
	assert.Empty(t, outcome.Deliveries)
	assert.Empty(t, fake.targets())
}

// ============================================
// 投递去重
// ============================================

func TestRoute_DedupeSkipsSecondDispatch(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	fake := &fakeNotifier{}
	r := NewNotificationRouter(DefaultRoutingMatrix(), []notifier.Notifier{fake}, zap.NewNop())
	r.SetDedupeGuard(&DedupeGuard{
		Client:    client,
		KeyPrefix: "hotel:notify:dedupe:",
		TTL:       time.Hour,
	})

	event := stateChangeEvent(models.KindRoom, models.RoomOccupied, models.RoomNeedCleaning)

	first, err := r.Route(context.Background(), event)
	require.NoError(t, err)
	for _, d := range first.Deliveries {
		assert.Equal(t, DeliveryDelivered, d.Status)
	}

	// 同一 correlation_id 的重复分发被去重
	second, err := r.Route(context.Background(), event)
	require.NoError(t, err)
	for _, d := range second.Deliveries {
		assert.Equal(t, DeliverySkipped, d.Status)
	}
	assert.Len(t, fake.targets(), 2)
}

func TestRoute_DedupeUnavailableStillDelivers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close() // Redis 不可用

	fake := &fakeNotifier{}
	r := NewNotificationRouter(DefaultRoutingMatrix(), []notifier.Notifier{fake}, zap.NewNop())
	r.SetDedupeGuard(&DedupeGuard{Client: client, KeyPrefix: "x:", TTL: time.Hour})

	outcome, err := r.Route(context.Background(), stateChangeEvent(models.KindRoom, models.RoomOccupied, models.RoomNeedCleaning))
	require.NoError(t, err)
	for _, d := range outcome.Deliveries {
		assert.Equal(t, DeliveryDelivered, d.Status)
	}
}

// SetNXGuard 行为本身
func TestSetNXGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ok, err := redisx.SetNXGuard(context.Background(), client, "k1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = redisx.SetNXGuard(context.Background(), client, "k1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}
