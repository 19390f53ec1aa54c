package permissions

/*
#cgo LDFLAGS: -framework CoreGraphics
#include <CoreGraphics/CoreGraphics.h>

// Available since macOS 10.15.
int hasScreenRecordingPermission() {
    return CGPreflightScreenCaptureAccess();
}

int requestScreenRecordingPermission() {
    return CGRequestScreenCaptureAccess();
}
*/
import "C"

import "fmt"

// ScreenCapture reports whether the process holds the Screen Recording
// permission.
func ScreenCapture() error {
	if C.hasScreenRecordingPermission() == 0 {
		return fmt.Errorf("%w: Screen Recording not granted in System Settings", ErrDenied)
	}
	return nil
}

// RequestScreenCapture prompts for Screen Recording. Returns true if already
// granted. After granting, the user must restart the process.
func RequestScreenCapture() bool {
	return C.requestScreenRecordingPermission() != 0
}
