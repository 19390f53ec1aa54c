// Package coregraphics captures displays and windows on macOS with
// CoreGraphics window list images.
package coregraphics
