package display

import "image"

// Display renders received frames until the user closes it.
type Display interface {
	Run() error
	SetFrame(img *image.RGBA, seq uint64)
}
