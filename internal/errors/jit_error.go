package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ============================================================================
// JITError
// ============================================================================

// NoPosition 表示错误不对应具体指令
const NoPosition = -1

// JITError JIT 编译错误
// Position 是出错指令的字位置，或 NoPosition。
//
// Chain 是出错时正在编译的方法链，最外层在前，出错的方法在最后。
type JITError struct {
	Code     string
	Method   string
	Position int
	Opcode   string
	Message  string
	Cause    error
	Chain    []string
}

// New 创建错误
func New(code, format string, args ...any) *JITError {
	return &JITError{
		Code:     code,
		Position: NoPosition,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Wrap 包装底层错误
func Wrap(code string, cause error, format string, args ...any) *JITError {
	e := New(code, format, args...)
	e.Cause = cause
	return e
}

// At 记录出错的方法和指令
func (e *JITError) At(method string, pos int, opcode string) *JITError {
	e.Method = method
	e.Position = pos
	e.Opcode = opcode
	if len(e.Chain) == 0 && method != "" {
		e.Chain = []string{method}
	}
	return e
}

// InMethod 只记录方法（无指令位置）
func (e *JITError) InMethod(method string) *JITError {
	return e.At(method, NoPosition, "")
}

// Caller 在调用链前面加入调用方
func (e *JITError) Caller(method string) *JITError {
	e.Chain = append([]string{method}, e.Chain...)
	return e
}

// Error 实现 error 接口
func (e *JITError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Code)
	if e.Method != "" {
		sb.WriteString(" in ")
		sb.WriteString(e.Method)
		if e.Position != NoPosition {
			fmt.Fprintf(&sb, "@%d", e.Position)
		}
		if e.Opcode != "" {
			fmt.Fprintf(&sb, " (%s)", e.Opcode)
		}
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap 返回底层错误
func (e *JITError) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配 *JITError，配合下面的哨兵错误使用 errors.Is
func (e *JITError) Is(target error) bool {
	t, ok := target.(*JITError)
	return ok && t.Code == e.Code
}

// 哨兵错误（用于 errors.Is）
var (
	ErrUnsupported     = &JITError{Code: J0100}
	ErrStackDepth      = &JITError{Code: J0101}
	ErrLayout          = &JITError{Code: J0200}
	ErrEncoder         = &JITError{Code: J0300}
	ErrBufferExhausted = &JITError{Code: J0301}
	ErrProtection      = &JITError{Code: J0302}
	ErrUnresolved      = &JITError{Code: J0400}
	ErrCycle           = &JITError{Code: J0401}
	ErrMissingEntry    = &JITError{Code: J0402}
)

// AsJITError 查找错误链中最外层的 *JITError
func AsJITError(err error) (*JITError, bool) {
	var je *JITError
	if stderrors.As(err, &je) {
		return je, true
	}
	return nil, false
}

// CodeOf 获取错误码，没有时返回 ""
func CodeOf(err error) string {
	if je, ok := AsJITError(err); ok {
		return je.Code
	}
	return ""
}
