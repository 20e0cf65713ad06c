package ui

import "fmt"

// ANSI256 color codes.
const (
	colorAccent = 74  // blue
	colorOK     = 71  // green
	colorWarn   = 179 // amber
	colorError  = 167 // red
	colorMuted  = 245 // gray
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent styles section headers and command names.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderOK styles a success line.
func RenderOK(s string) string { return render(colorOK, s) }

// RenderWarn styles items that need attention, e.g. dry-run actions.
func RenderWarn(s string) string { return render(colorWarn, s) }

// RenderError styles failures.
func RenderError(s string) string { return render(colorError, s) }

// RenderMuted styles secondary text such as timestamps.
func RenderMuted(s string) string { return render(colorMuted, s) }

// Count renders n with the error style when it is non-zero and the OK style
// otherwise.
func Count(n int) string {
	if n > 0 {
		return RenderError(fmt.Sprint(n))
	}
	return RenderOK(fmt.Sprint(n))
}

// SetColor enables or disables color output globally.
func SetColor(enabled bool) {
	noColor = !enabled
}
