// Package errors JIT 错误码体系与诊断输出
package errors

// ============================================================================
// 错误级别
// ============================================================================

// Level 诊断级别
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelNote
	LevelHelp
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelNote:
		return "note"
	case LevelHelp:
		return "help"
	default:
		return "unknown"
	}
}

// ============================================================================
// JIT 错误码 (J 前缀)
// ============================================================================

const (
	// J0100-J0199: 字节码翻译
	J0100 = "J0100" // unsupported instruction
	J0101 = "J0101" // evaluation stack depth out of range

	// J0200-J0299: 宿主 ABI
	J0200 = "J0200" // frame/context layout mismatch

	// J0300-J0399: 代码写入
	J0300 = "J0300" // encoder fault
	J0301 = "J0301" // code buffer exhausted
	J0302 = "J0302" // memory protection fault

	// J0400-J0499: 调用链接
	J0400 = "J0400" // unresolved callee
	J0401 = "J0401" // recursive compilation cycle
	J0402 = "J0402" // missing native entry after compile
)

// ErrorInfo 错误码信息
type ErrorInfo struct {
	Code     string
	Level    Level
	Title    string
	Category string
}

var jitErrors = map[string]ErrorInfo{
	J0100: {J0100, LevelError, "unsupported instruction", "translate"},
	J0101: {J0101, LevelError, "evaluation stack depth out of range", "translate"},

	J0200: {J0200, LevelError, "frame layout mismatch", "abi"},

	J0300: {J0300, LevelError, "encoder fault", "emit"},
	J0301: {J0301, LevelError, "code buffer exhausted", "emit"},
	J0302: {J0302, LevelError, "memory protection fault", "emit"},

	J0400: {J0400, LevelError, "unresolved callee", "link"},
	J0401: {J0401, LevelError, "recursive compilation cycle", "link"},
	J0402: {J0402, LevelError, "missing native entry", "link"},
}

// GetErrorInfo 获取错误码信息
func GetErrorInfo(code string) (ErrorInfo, bool) {
	info, ok := jitErrors[code]
	return info, ok
}

// IsJITCode 检查是否为已知的 JIT 错误码
func IsJITCode(code string) bool {
	_, ok := jitErrors[code]
	return ok
}
