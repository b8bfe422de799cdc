package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorMuted  = 245 // medium gray
	colorReady  = 114 // green
	colorWarn   = 214 // orange
	colorDone   = 240 // dark gray
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderWarn returns s in the warning (orange) color.
func RenderWarn(s string) string { return render(colorWarn, s) }

// RenderStatus colors an entry or session status word.
func RenderStatus(status string) string {
	switch status {
	case "notified", "table_ready", "open":
		return render(colorReady, status)
	case "waiting":
		return render(colorAccent, status)
	case "cancelled", "removed", "left":
		return render(colorWarn, status)
	default:
		return render(colorDone, status)
	}
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
