// Package cli provides shared formatting helpers for the hotspot CLI.
package cli

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// colorEnabled is false when NO_COLOR env var is set (per no-color.org) or
// stdout is not a terminal.
var colorEnabled = os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd()))

// SetColor forces colour output on or off.
func SetColor(on bool) {
	colorEnabled = on
}

func wrap(code, s string) string {
	if !colorEnabled {
		return s
	}
	return code + s + "\033[0m"
}

// Green wraps s in ANSI green. Returns s unchanged when colour is off.
func Green(s string) string { return wrap("\033[32m", s) }

// Yellow wraps s in ANSI yellow. Returns s unchanged when colour is off.
func Yellow(s string) string { return wrap("\033[33m", s) }

// Red wraps s in ANSI red. Returns s unchanged when colour is off.
func Red(s string) string { return wrap("\033[31m", s) }

// Bold wraps s in ANSI bold. Returns s unchanged when colour is off.
func Bold(s string) string { return wrap("\033[1m", s) }

// Dim wraps s in ANSI dim. Returns s unchanged when colour is off.
func Dim(s string) string { return wrap("\033[2m", s) }

// State colours a session state name: running green, transitional yellow,
// error red, idle dim.
func State(name string) string {
	switch {
	case name == "running":
		return Green(name)
	case name == "idle":
		return Dim(name)
	case strings.HasPrefix(name, "error"):
		return Red(name)
	default:
		return Yellow(name)
	}
}

// YesNo renders a capability flag.
func YesNo(ok bool) string {
	if ok {
		return Green("yes")
	}
	return Red("no")
}

// DotPad pads name with dots to the given width.
// Example: DotPad("hostapd", 20) → "hostapd ............"
func DotPad(name string, width int) string {
	if width <= 0 || len(name) >= width-1 {
		return name
	}
	dots := width - len(name) - 1
	return name + " " + strings.Repeat(".", dots)
}
