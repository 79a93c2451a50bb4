package entities

import "image"

// Frame is a decoded camera frame. Raw keeps the original encoded bytes so
// remote classifiers can forward them without re-encoding.
type Frame struct {
	Raw    []byte
	Format string
	Image  image.Image
}

// Width returns the raster width in pixels
func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the raster height in pixels
func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// MIMEType maps the decoder's format name to a content type
func (f *Frame) MIMEType() string {
	switch f.Format {
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
