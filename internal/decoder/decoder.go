package decoder

import "image"

// Decoder turns transported frame payloads back into pixels.
type Decoder interface {
	Decode(data []byte) (*image.RGBA, error)
}
