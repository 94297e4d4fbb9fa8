package domain

import (
	"errors"
	"fmt"
)

// 结构性违规：在任何写入之前整体失败
var (
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrDuplicateSettlement = errors.New("duplicate settlement")
	ErrNotFound            = errors.New("not found")
	ErrRecordInUse         = errors.New("record in use")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConcurrentUpdate    = errors.New("optimistic lock conflict: record modified by others")
)

// 数据质量问题：只记录日志或打标记，绝不阻塞结算
var (
	ErrMissingCurrencyRate        = errors.New("missing currency rate")
	ErrInconsistentPartyReference = errors.New("inconsistent party reference")
	ErrActorRequired              = errors.New("actor required")
)

// TransitionError 状态机拒绝的迁移 (指明实体与起止状态)
type TransitionError struct {
	Entity string
	ID     uint
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %d: cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// DuplicateError 重复结算 (指明被破坏的唯一性约束)
type DuplicateError struct {
	Reason string
}

func (e *DuplicateError) Error() string { return e.Reason }

func (e *DuplicateError) Unwrap() error { return ErrDuplicateSettlement }

// Duplicate 构造 DuplicateError
func Duplicate(format string, args ...any) error {
	return &DuplicateError{Reason: fmt.Sprintf(format, args...)}
}

// InvalidInput 包装字段级校验错误
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
