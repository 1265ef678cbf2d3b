package engine

import (
	"errors"
	"fmt"
	"strings"
)

// 引擎错误分类
// 非法转换和并发冲突是常规业务结果，用类型化错误返回给调用方，
// 由上层（HTTP 等）翻译成用户可见的提示
var (
	ErrNotFound            = errors.New("entity not found")
	ErrIllegalTransition   = errors.New("transition not allowed in current state")
	ErrMissingRequiredNote = errors.New("notes are required for this transition")
	ErrConflict            = errors.New("entity was just updated by someone else")
	ErrAuditWriteFailed    = errors.New("failed to write audit history")
)

// IllegalTransitionError 规则表拒绝，携带当前合法转换集合供 UI 重新渲染
type IllegalTransitionError struct {
	EntityID  string
	Kind      string
	Role      string
	FromState string
	ToState   string
	Allowed   []string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s %s → %s (role=%s, allowed: [%s])",
		e.Kind, e.FromState, e.ToState, e.Role, strings.Join(e.Allowed, ", "))
}

func (e *IllegalTransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// ConflictError 并发写入者先到，携带实体的实际当前状态
// 调用方应刷新后让用户重新决策，绝不静默改写成其它转换
type ConflictError struct {
	EntityID     string
	CurrentState string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: entity %s was updated concurrently, current state is %s",
		e.EntityID, e.CurrentState)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}
