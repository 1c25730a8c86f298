// Package errors 提供统一错误类型与哨兵错误。
//
// 分层:
//   - L1 哨兵错误: ErrNotFound / ErrInvalidInput / ErrNoTarget 等
//   - L2 AppError: 带 Op + Code + Message 的应用级错误
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrNotFound 资源不存在 (会话/消息/review 面板)
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout 操作超时
	ErrTimeout = errors.New("timeout")

	// ErrTurnInFlight 会话已有进行中的 turn
	ErrTurnInFlight = errors.New("turn already in flight")

	// ErrNoTarget 未选定可用的 model 或 agent
	ErrNoTarget = errors.New("no model or agent selected")

	// ErrNoStream transport 未返回事件流
	ErrNoStream = errors.New("transport returned no stream")
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "Controller.Send"
	Code    string // 错误码，如 "BACKEND_ERROR"、"VALIDATION"
	Message string // 人类可读消息
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// Is 转发标准库 errors.Is, 调用方无需同时导入两个 errors 包。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As 转发标准库 errors.As。
func As(err error, target any) bool {
	return errors.As(err, target)
}
