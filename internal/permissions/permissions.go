// Package permissions checks whether this process can capture the desktop.
package permissions

import (
	"errors"
	"strings"
)

var (
	// ErrDenied means the OS refused screen capture to this process.
	ErrDenied = errors.New("permissions: screen capture denied")
	// ErrNoDisplayServer means there is no display the grabbers can reach.
	ErrNoDisplayServer = errors.New("permissions: no usable display server")
)

// Source type bits of the org.freedesktop.portal.ScreenCast interface.
const (
	portalMonitor uint32 = 1 << iota
	portalWindow
	portalVirtual
)

func sourceTypeNames(mask uint32) string {
	var names []string
	if mask&portalMonitor != 0 {
		names = append(names, "monitor")
	}
	if mask&portalWindow != 0 {
		names = append(names, "window")
	}
	if mask&portalVirtual != 0 {
		names = append(names, "virtual")
	}
	if len(names) == 0 {
		return "nothing"
	}
	return strings.Join(names, ", ")
}
