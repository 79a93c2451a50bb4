//go:build !gocv

package haar

import "errors"

// ErrNoOpenCV is returned when the binary was built without the gocv tag
var ErrNoOpenCV = errors.New("built without OpenCV support, rebuild with -tags gocv")

// NewCascadeDetector always fails in builds without OpenCV
func NewCascadeDetector(facePath, smilePath string) (Detector, error) {
	return nil, ErrNoOpenCV
}
