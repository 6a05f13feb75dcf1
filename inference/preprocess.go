package inference

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

// DecodeImage decodes JPEG, PNG or GIF bytes, honouring EXIF orientation.
func DecodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// GrayscalePixels converts img to grayscale, resizes it to size x size and
// returns row-major intensities scaled to [0,1].
func GrayscalePixels(img image.Image, size int) []float32 {
	gray := imaging.Resize(imaging.Grayscale(img), size, size, imaging.Linear)

	out := make([]float32, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			// NRGBA with equal channels after Grayscale
			off := gray.PixOffset(x, y)
			out[y*size+x] = float32(gray.Pix[off]) / 255
		}
	}
	return out
}

// Normalize applies (x-mean)/std in place.
func Normalize(data []float32, mean, std float32) []float32 {
	for i, v := range data {
		data[i] = (v - mean) / std
	}
	return data
}

// Softmax returns the normalized exponentials of logits.
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}

	maxLogit := float64(logits[0])
	for _, l := range logits[1:] {
		maxLogit = math.Max(maxLogit, float64(l))
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(float64(l) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// ClassProbability pairs a class label with its probability.
type ClassProbability struct {
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
}

// Rank pairs names with softmax(logits) and sorts by descending probability.
func Rank(names []string, logits []float32) ([]ClassProbability, error) {
	if len(names) != len(logits) {
		return nil, fmt.Errorf("expected %d logits, got %d", len(names), len(logits))
	}

	probs := Softmax(logits)
	ranked := make([]ClassProbability, len(names))
	for i, name := range names {
		ranked[i] = ClassProbability{Name: name, Probability: probs[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Probability > ranked[j].Probability
	})
	return ranked, nil
}

// ToGray8 converts [0,1] values scaled by 255 into an 8-bit grayscale image,
// clipping out-of-range values.
func ToGray8(data []float32, width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := 0; i < width*height && i < len(data); i++ {
		v := data[i] * 255
		switch {
		case v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		img.Pix[i] = uint8(v)
	}
	return img
}
