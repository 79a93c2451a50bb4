// Package emotion holds the per-frame pipeline stages: decoding, the
// classifier chain, confidence gating and temporal smoothing.
package emotion

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/satriahrh/emora/domain/entities"
)

// ErrInvalidFrame wraps every decoding failure
var ErrInvalidFrame = errors.New("invalid frame")

// DefaultMaxPixels bounds decoded frames to 16 megapixels
const DefaultMaxPixels = 4096 * 4096

// Decoder turns data-URI or bare base64 payloads into frames
type Decoder struct {
	MaxPixels int
}

// NewDecoder returns a decoder with the given pixel budget
func NewDecoder(maxPixels int) *Decoder {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Decoder{MaxPixels: maxPixels}
}

// Decode strips an optional "<metadata>," header, base64-decodes the rest
// and decodes the image.
func (d *Decoder) Decode(payload string) (*entities.Frame, error) {
	if i := strings.IndexByte(payload, ','); i >= 0 {
		payload = payload[i+1:]
	}
	payload = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidFrame)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode base64: %v", ErrInvalidFrame, err)
		}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read image header: %v", ErrInvalidFrame, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrInvalidFrame, cfg.Width, cfg.Height)
	}
	maxPixels := d.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: image %dx%d exceeds %d pixels", ErrInvalidFrame, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image: %v", ErrInvalidFrame, err)
	}

	return &entities.Frame{Raw: raw, Format: format, Image: img}, nil
}
