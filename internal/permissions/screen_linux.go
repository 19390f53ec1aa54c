package permissions

import (
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
)

const (
	portalName = "org.freedesktop.portal.Desktop"
	portalPath = "/org/freedesktop/portal/desktop"
)

// ScreenCapture succeeds when an X server is reachable. A pure Wayland
// session is reported with what the ScreenCast portal would offer, since the
// built-in grabbers need X.
func ScreenCapture() error {
	if os.Getenv("DISPLAY") != "" {
		return nil
	}
	if os.Getenv("WAYLAND_DISPLAY") == "" {
		return fmt.Errorf("%w: neither DISPLAY nor WAYLAND_DISPLAY is set", ErrNoDisplayServer)
	}
	types, err := portalSourceTypes()
	if err != nil {
		return fmt.Errorf("%w: Wayland without Xwayland, ScreenCast portal unreachable: %v", ErrNoDisplayServer, err)
	}
	return fmt.Errorf("%w: Wayland without Xwayland (portal offers %s); run under Xwayland or set DISPLAY",
		ErrNoDisplayServer, sourceTypeNames(types))
}

// RequestScreenCapture cannot prompt on X11; it reports the current state.
func RequestScreenCapture() bool {
	return ScreenCapture() == nil
}

func portalSourceTypes() (uint32, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return 0, err
	}
	v, err := conn.Object(portalName, portalPath).
		GetProperty("org.freedesktop.portal.ScreenCast.AvailableSourceTypes")
	if err != nil {
		return 0, err
	}
	types, ok := v.Value().(uint32)
	if !ok {
		return 0, fmt.Errorf("unexpected AvailableSourceTypes %s", v.Signature())
	}
	return types, nil
}
