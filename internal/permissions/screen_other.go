//go:build !darwin && !linux

package permissions

// ScreenCapture has nothing to check on this platform.
func ScreenCapture() error {
	return nil
}

func RequestScreenCapture() bool {
	return true
}
