//go:build gocv

package haar

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"gocv.io/x/gocv"
)

const (
	faceScale         = 1.3
	faceMinNeighbors  = 5
	smileScale        = 1.8
	smileMinNeighbors = 20
)

type cascadeDetector struct {
	face  gocv.CascadeClassifier
	smile gocv.CascadeClassifier
}

// NewCascadeDetector loads the frontal-face and smile cascades
func NewCascadeDetector(facePath, smilePath string) (Detector, error) {
	if facePath == "" || smilePath == "" {
		return nil, errors.New("face and smile cascade paths are required")
	}
	face := gocv.NewCascadeClassifier()
	if !face.Load(facePath) {
		face.Close()
		return nil, fmt.Errorf("failed to load face cascade %s", facePath)
	}
	smile := gocv.NewCascadeClassifier()
	if !smile.Load(smilePath) {
		face.Close()
		smile.Close()
		return nil, fmt.Errorf("failed to load smile cascade %s", smilePath)
	}
	return &cascadeDetector{face: face, smile: smile}, nil
}

func (d *cascadeDetector) Detect(img image.Image) ([]Face, error) {
	gray := image.NewGray(img.Bounds())
	draw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, draw.Src)

	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	defer mat.Close()

	rects := d.face.DetectMultiScaleWithParams(mat, faceScale, faceMinNeighbors, 0, image.Point{}, image.Point{})
	faces := make([]Face, 0, len(rects))
	for _, r := range rects {
		roi := mat.Region(r)
		smiles := d.smile.DetectMultiScaleWithParams(roi, smileScale, smileMinNeighbors, 0, image.Point{}, image.Point{})
		roi.Close()
		faces = append(faces, Face{Rect: r, Smiles: len(smiles)})
	}
	return faces, nil
}

func (d *cascadeDetector) Close() error {
	d.face.Close()
	d.smile.Close()
	return nil
}
