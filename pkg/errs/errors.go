// Package errs 定义了检索引擎对外暴露的错误分类。
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Error 是带有错误码和 HTTP 状态码的分类错误。
type Error struct {
	Code       int
	HTTPStatus int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

// New 创建一个分类错误。
func New(code int, httpStatus int, message string) *Error {
	return &Error{Code: code, HTTPStatus: httpStatus, Message: message}
}

// 错误分类
var (
	ErrValidation           = New(1001, http.StatusBadRequest, "validation failed")
	ErrEncoding             = New(1002, http.StatusUnprocessableEntity, "text encoding failed")
	ErrIndexCorruption      = New(1003, http.StatusInternalServerError, "index artifacts are inconsistent")
	ErrCacheUnavailable     = New(1004, http.StatusServiceUnavailable, "remote artifact cache unavailable")
	ErrModelVersionMismatch = New(1005, http.StatusConflict, "artifacts were built by a different model version")
	ErrNotReady             = New(1006, http.StatusServiceUnavailable, "tenant index is not ready, rebuilding")
	ErrTenantNotFound       = New(1007, http.StatusNotFound, "tenant has no uploaded data")
	ErrStoreClosed          = New(1008, http.StatusServiceUnavailable, "tenant store is closed")
	ErrQueueDisabled        = New(1009, http.StatusServiceUnavailable, "async ingest queue is not enabled")
)

// wrapped 在保留分类的前提下附加上下文，并可以链接底层原因。
type wrapped struct {
	kind  *Error
	msg   string
	cause error
}

func (w *wrapped) Error() string {
	if w.cause != nil {
		return fmt.Sprintf("%s: %s: %v", w.kind.Message, w.msg, w.cause)
	}
	return fmt.Sprintf("%s: %s", w.kind.Message, w.msg)
}

func (w *wrapped) Is(target error) bool {
	return target == w.kind
}

func (w *wrapped) Unwrap() error {
	return w.cause
}

// Wrap 为分类错误附加格式化的上下文信息。
func Wrap(kind *Error, format string, args ...interface{}) error {
	return &wrapped{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// WrapCause 为分类错误附加上下文并保留底层错误，errors.Is 对两者都成立。
func WrapCause(kind *Error, cause error, format string, args ...interface{}) error {
	return &wrapped{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// HTTPStatus 返回错误对应的 HTTP 状态码，未分类错误返回 500。
func HTTPStatus(err error) int {
	if kind := KindOf(err); kind != nil {
		return kind.HTTPStatus
	}
	return http.StatusInternalServerError
}

// KindOf 返回错误链上的分类，没有则返回 nil。
func KindOf(err error) *Error {
	var w *wrapped
	if errors.As(err, &w) {
		return w.kind
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
