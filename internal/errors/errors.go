// Package errors 提供带错误码的 error 实现。每个错误码在注册表中登记默认的
// 描述、严重程度、可重试性与 HTTP 状态码，单个错误可以在构造时覆盖。
package errors

import (
	stdErrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
)

// Code 是跨包共享的错误码，对外 API 与告警都以它为准。
type Code string

// Severity 决定告警路由的级别。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeAgentFailure          Code = "AGENT_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
	CodeMalformedInput        Code = "MALFORMED_INPUT"
	CodeVerificationFailed    Code = "VERIFICATION_FAILED"
)

// Attributes 为错误码提供默认行为。Status 是对外暴露时使用的 HTTP 状态码，
// 为 0 时按 500 处理。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
	Status    int
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {"unknown error", SeverityCritical, false, true, http.StatusInternalServerError},
		CodeInvalidArgument:       {"invalid argument", SeverityInfo, false, false, http.StatusBadRequest},
		CodeNotFound:              {"resource not found", SeverityInfo, false, false, http.StatusNotFound},
		CodeConflict:              {"resource conflict", SeverityWarning, false, false, http.StatusConflict},
		CodeInitializationFailure: {"service not initialized", SeverityWarning, true, true, http.StatusServiceUnavailable},
		CodeStorageFailure:        {"storage failure", SeverityCritical, true, true, http.StatusInternalServerError},
		CodeQueueFailure:          {"queue failure", SeverityCritical, true, true, http.StatusServiceUnavailable},
		CodeAgentFailure:          {"agent failed to produce a trajectory", SeverityWarning, false, false, http.StatusUnprocessableEntity},
		CodeTimeout:               {"operation timed out", SeverityWarning, true, true, http.StatusGatewayTimeout},
		CodeMalformedInput:        {"malformed input", SeverityInfo, false, false, http.StatusBadRequest},
		CodeVerificationFailed:    {"verification failed", SeverityWarning, false, true, http.StatusUnprocessableEntity},
	}
)

// Register 登记或覆盖错误码的默认属性，通常在包的 init 中调用。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	registry[code] = attr
	registryMu.Unlock()
}

// AttributesOf 查询错误码的默认属性，未登记的错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 携带错误码。属性在读取时才从注册表解析，再叠加构造时的覆盖项，
// 因此包级哨兵错误可以早于 init 中的 Register 创建。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	overrides []func(*Attributes)
}

// Option 在构造时调整单个错误。
type Option func(*Error)

func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = map[string]string{}
		}
		e.metadata[key] = value
	}
}

func override(fn func(*Attributes)) Option {
	return func(e *Error) { e.overrides = append(e.overrides, fn) }
}

func WithRetryable(retryable bool) Option {
	return override(func(a *Attributes) { a.Retryable = retryable })
}
func WithAlert(alert bool) Option { return override(func(a *Attributes) { a.Alert = alert }) }
func WithSeverity(sev Severity) Option {
	return override(func(a *Attributes) { a.Severity = sev })
}

func (e *Error) attributes() Attributes {
	a := AttributesOf(e.code)
	for _, fn := range e.overrides {
		fn(&a)
	}
	return a
}

// New 构造错误，message 为空时取注册表中的描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 与 New 相同，但保留 cause 以便 errors.Is/As 继续向下匹配。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause == nil:
		return "[" + string(e.code) + "] " + e.message
	default:
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 让 errors.Is 按错误码匹配，因此包级哨兵错误可以直接比较。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含错误码与原因的描述。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil {
		return nil
	}
	return maps.Clone(e.metadata)
}

func (e *Error) Retryable() bool   { return e != nil && e.attributes().Retryable }
func (e *Error) ShouldAlert() bool { return e != nil && e.attributes().Alert }

func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return e.attributes().Severity
}

// LogValue 将错误展开为结构化日志字段，元数据按键排序。
func (e *Error) LogValue() slog.Value {
	if e == nil {
		return slog.Value{}
	}
	attrs := []slog.Attr{
		slog.String("code", string(e.code)),
		slog.String("message", e.message),
		slog.String("severity", string(e.Severity())),
	}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	for _, k := range slices.Sorted(maps.Keys(e.metadata)) {
		attrs = append(attrs, slog.String(k, e.metadata[k]))
	}
	return slog.GroupValue(attrs...)
}

// From 返回错误链中最外层的 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	ok := err != nil && stdErrors.As(err, &target)
	return target, ok
}

// MetadataOf returns the metadata value stored under key, if err carries one.
func MetadataOf(err error, key string) (string, bool) {
	e, ok := From(err)
	if !ok {
		return "", false
	}
	v, ok := e.metadata[key]
	return v, ok
}

// CodeOf 返回错误码，非 *Error 的错误视为 UNKNOWN。
func CodeOf(err error) Code {
	e, _ := From(err)
	return e.Code()
}

func RetryableError(err error) bool {
	e, _ := From(err)
	return e.Retryable()
}

func ShouldAlert(err error) bool {
	e, _ := From(err)
	return e.ShouldAlert()
}

// SeverityOf 对非 *Error 的错误返回 UNKNOWN 的级别。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}

// HTTPStatus 返回错误码登记的 HTTP 状态码，未登记时为 500。
func HTTPStatus(err error) int {
	if status := AttributesOf(CodeOf(err)).Status; status != 0 {
		return status
	}
	return http.StatusInternalServerError
}
