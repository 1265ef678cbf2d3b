package repository

import "errors"

var (
	// ErrNotFound 实体不存在（区别于"没有可用转换"）
	ErrNotFound = errors.New("entity not found")

	// ErrConflict 条件写失败：存储中的状态已不是读取时的状态（并发写入者先到）
	ErrConflict = errors.New("state conflict: entity was updated concurrently")

	// ErrDuplicateCorrelation 同一 correlation_id 的流水已存在（幂等重放）
	ErrDuplicateCorrelation = errors.New("history entry with this correlation_id already exists")
)
