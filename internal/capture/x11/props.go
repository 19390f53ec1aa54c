package x11

import (
	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/junsooki/deskcast/internal/capture"
)

// windowList decodes a 32-bit WINDOW list property.
func windowList(value []byte, n uint32) []xproto.Window {
	if limit := uint32(len(value) / 4); n > limit {
		n = limit
	}
	windows := make([]xproto.Window, 0, n)
	for i := uint32(0); i < n; i++ {
		if w := xproto.Window(xgb.Get32(value[i*4:])); w != 0 {
			windows = append(windows, w)
		}
	}
	return windows
}

// cardinal decodes a single 32-bit CARDINAL, or 0 if absent.
func cardinal(value []byte, n uint32) uint32 {
	if n < 1 || len(value) < 4 {
		return 0
	}
	return xgb.Get32(value)
}

// classify maps an X error to a capture result. A window that is gone will
// not come back; everything else may succeed on the next attempt.
func classify(err error) capture.Result {
	switch err.(type) {
	case xproto.WindowError, xproto.DrawableError:
		return capture.ResultErrorPermanent
	default:
		return capture.ResultErrorTemporary
	}
}
