package errors

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Color 终端颜色
type Color int

const (
	ColorReset Color = iota
	ColorGreen
	ColorCyan
	ColorWhite
	ColorBoldRed
	ColorBoldYellow
)

var ansiCodes = map[Color]string{
	ColorReset:      "\033[0m",
	ColorGreen:      "\033[32m",
	ColorCyan:       "\033[36m",
	ColorWhite:      "\033[37m",
	ColorBoldRed:    "\033[1;31m",
	ColorBoldYellow: "\033[1;33m",
}

var colorsEnabled = detectColorSupport(os.Stderr)

// detectColorSupport 检测写到 f 的诊断是否需要着色
// NO_COLOR 和 TERM=dumb 优先。
func detectColorSupport(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return IsTerminal(f)
}

// IsTerminal 检查 f 是否为交互式终端（包括 Cygwin/MSYS 伪终端）
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ColorsEnabled 是否启用颜色
func ColorsEnabled() bool {
	return colorsEnabled
}

// SetColorsEnabled 设置是否启用颜色（覆盖终端检测）
func SetColorsEnabled(enabled bool) {
	colorsEnabled = enabled
}

// Colorize 为文本添加颜色
func Colorize(s string, color Color) string {
	if !colorsEnabled {
		return s
	}
	return paint(s, color)
}

func paint(s string, color Color) string {
	code, ok := ansiCodes[color]
	if !ok {
		return s
	}
	return code + s + ansiCodes[ColorReset]
}

// Strip 移除 Colorize 添加的转义码
func Strip(s string) string {
	for _, code := range ansiCodes {
		s = strings.ReplaceAll(s, code, "")
	}
	return s
}
