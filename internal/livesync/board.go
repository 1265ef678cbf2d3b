package livesync

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// Board 实时看板（内存中每个实体的最新快照）
// Watcher 消费快照流更新看板，HTTP 层直接读取
type Board struct {
	mu      sync.RWMutex
	entries map[string]map[string]*EntitySnapshot // tenant_id -> entity_id -> snapshot
}

// NewBoard 创建实时看板
func NewBoard() *Board {
	return &Board{
		entries: make(map[string]map[string]*EntitySnapshot),
	}
}

// Apply 应用一条快照（幂等，旧消息重放只会覆盖为同样的值）
func (b *Board) Apply(ctx context.Context, snapshot *EntitySnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tenant, ok := b.entries[snapshot.TenantID]
	if !ok {
		tenant = make(map[string]*EntitySnapshot)
		b.entries[snapshot.TenantID] = tenant
	}

	// 不回退：已有更新的快照时忽略旧消息
	// Timestamp 只有秒级精度，同一秒内用流消息 ID 决定先后
	if existing, ok := tenant[snapshot.EntityID]; ok {
		if existing.Timestamp > snapshot.Timestamp {
			return nil
		}
		if existing.Timestamp == snapshot.Timestamp &&
			existing.StreamID != "" && snapshot.StreamID != "" &&
			streamIDAfter(existing.StreamID, snapshot.StreamID) {
			return nil
		}
	}

	tenant[snapshot.EntityID] = snapshot
	return nil
}

// streamIDAfter a 是否在 b 之后（流消息 ID 格式为 "ms-seq"）
func streamIDAfter(a, b string) bool {
	ams, aseq := parseStreamID(a)
	bms, bseq := parseStreamID(b)
	if ams != bms {
		return ams > bms
	}
	return aseq > bseq
}

func parseStreamID(id string) (ms, seq int64) {
	msPart, seqPart, ok := strings.Cut(id, "-")
	if !ok {
		seqPart = "0"
	}
	ms, _ = strconv.ParseInt(msPart, 10, 64)
	seq, _ = strconv.ParseInt(seqPart, 10, 64)
	return ms, seq
}

// List 返回租户的全部实体快照
func (b *Board) List(tenantID string) []*EntitySnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tenant := b.entries[tenantID]
	snapshots := make([]*EntitySnapshot, 0, len(tenant))
	for _, s := range tenant {
		snapshots = append(snapshots, s)
	}
	return snapshots
}

// Get 返回单个实体的快照
func (b *Board) Get(tenantID, entityID string) (*EntitySnapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snapshot, ok := b.entries[tenantID][entityID]
	return snapshot, ok
}
