package deepface

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxFrameSize guards against a corrupted length prefix
const maxFrameSize = 64 << 20

// Request is written to the worker's stdin
type Request struct {
	Seq       uint64 `msgpack:"seq"`
	Type      string `msgpack:"type"`
	FrameData []byte `msgpack:"frame_data,omitempty"`
	Format    string `msgpack:"format,omitempty"`
	Width     int    `msgpack:"width,omitempty"`
	Height    int    `msgpack:"height,omitempty"`
}

// Response is read from the worker's stdout. Result holds either a single
// analysis map, a list of them (one per face) or nil when no face was found.
type Response struct {
	Seq    uint64             `msgpack:"seq"`
	Error  string             `msgpack:"error,omitempty"`
	Result msgpack.RawMessage `msgpack:"result,omitempty"`
}

// Analysis is the per-face result; scores are percentages
type Analysis struct {
	DominantEmotion string             `msgpack:"dominant_emotion"`
	Emotion         map[string]float64 `msgpack:"emotion"`
}

// WriteFrame writes one message with a 4-byte big-endian length prefix
func WriteFrame(w io.Writer, v interface{}) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed message payload
func ReadFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}
	return payload, nil
}

// Faces decodes the result into per-face analyses
func (r *Response) Faces() ([]Analysis, error) {
	if len(r.Result) == 0 {
		return nil, nil
	}
	var list []Analysis
	if err := msgpack.Unmarshal(r.Result, &list); err == nil {
		return list, nil
	}
	var single Analysis
	if err := msgpack.Unmarshal(r.Result, &single); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}
	if single.DominantEmotion == "" && len(single.Emotion) == 0 {
		return nil, nil
	}
	return []Analysis{single}, nil
}
