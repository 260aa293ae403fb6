package errors

import (
	"fmt"
	"strings"
)

// ============================================================================
// Formatter
// ============================================================================

// Formatter 错误格式化器，输出多行诊断：
//
//	error[J0100]: unsupported instruction
//	 --> fib@7 (opt_mult)
//	  = chain: main -> fib
//	  = message: opt_mult is not in the compiled set
//	  = help: ...
type Formatter struct {
	Colors    bool // emit ANSI colors
	ShowHints bool // append the per-code help lines
}

// NewFormatter 创建格式化器（颜色跟随终端检测）
func NewFormatter() *Formatter {
	return &Formatter{
		Colors:    ColorsEnabled(),
		ShowHints: true,
	}
}

// Format 格式化单个错误
// 非 *JITError 的错误只输出消息。
func (f *Formatter) Format(err error) string {
	je, ok := AsJITError(err)
	if !ok {
		return fmt.Sprintf("%s: %v\n", f.colorize("error", ColorBoldRed), err)
	}

	var sb strings.Builder
	info, known := GetErrorInfo(je.Code)
	title := je.Message
	level := LevelError
	if known {
		title = info.Title
		level = info.Level
	}

	// error[J0100]: unsupported instruction
	head := f.colorize(fmt.Sprintf("%s[%s]", level, je.Code), f.levelColor(level))
	fmt.Fprintf(&sb, "%s: %s\n", head, title)

	if je.Method != "" {
		loc := je.Method
		if je.Position != NoPosition {
			loc = fmt.Sprintf("%s@%d", loc, je.Position)
		}
		if je.Opcode != "" {
			loc = fmt.Sprintf("%s (%s)", loc, je.Opcode)
		}
		fmt.Fprintf(&sb, " %s %s\n", f.colorize("-->", ColorCyan), f.colorize(loc, ColorCyan))
	}

	if len(je.Chain) > 1 {
		f.note(&sb, "chain", strings.Join(je.Chain, " -> "))
	}
	if known && je.Message != "" {
		f.note(&sb, "message", je.Message)
	}
	if je.Cause != nil {
		f.note(&sb, "cause", je.Cause.Error())
	}
	if f.ShowHints {
		for _, h := range Hints(je.Code) {
			f.note(&sb, "help", h)
		}
	}
	return sb.String()
}

func (f *Formatter) note(sb *strings.Builder, label, text string) {
	fmt.Fprintf(sb, "  %s %s\n", f.colorize("= "+label+":", ColorCyan), text)
}

func (f *Formatter) levelColor(level Level) Color {
	switch level {
	case LevelError:
		return ColorBoldRed
	case LevelWarning:
		return ColorBoldYellow
	case LevelNote:
		return ColorCyan
	case LevelHelp:
		return ColorGreen
	default:
		return ColorWhite
	}
}

func (f *Formatter) colorize(s string, color Color) string {
	if !f.Colors {
		return s
	}
	return paint(s, color)
}

// ============================================================================
// 包级便捷函数
// ============================================================================

var defaultFormatter = NewFormatter()

// SetDefaultFormatter 设置默认格式化器
func SetDefaultFormatter(f *Formatter) {
	defaultFormatter = f
}

// Format 使用默认格式化器格式化错误
func Format(err error) string {
	return defaultFormatter.Format(err)
}
