// Package biometry measures fetal head circumference from a segmentation
// mask: edge detection, contour extraction and an ellipse fit.
package biometry

import (
	"image"
)

// Canny hysteresis thresholds applied to the 8-bit mask.
const (
	CannyLow  = 100
	CannyHigh = 200
)

// Measurement is the outcome of measuring one mask.
type Measurement struct {
	Ellipse       Ellipse
	Circumference float64
	PixelValue    float64
}

// Measure fits an ellipse to the largest edge contour of mask and derives
// the circumference in pixels. PixelValue is the mean mask intensity.
func Measure(mask *image.Gray) (*Measurement, error) {
	edges := Canny(mask, CannyLow, CannyHigh)

	contours := Contours(edges)
	if len(contours) == 0 {
		return nil, ErrNoContour
	}

	largest := Largest(contours)
	if len(largest) < minEllipsePoints {
		return nil, ErrTooFewPoints
	}

	ellipse, err := FitEllipse(largest)
	if err != nil {
		return nil, err
	}

	return &Measurement{
		Ellipse:       ellipse,
		Circumference: ellipse.Circumference(),
		PixelValue:    MeanIntensity(mask),
	}, nil
}

// MeanIntensity averages all pixel values of img.
func MeanIntensity(img *image.Gray) float64 {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}

	var sum float64
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()]
		for _, v := range row {
			sum += float64(v)
		}
	}
	return sum / float64(total)
}
