package biometry

import (
	"errors"
	"image"
	"math"
	"testing"
)

func ellipsePoints(xc, yc, a, b, theta float64, n int) []image.Point {
	pts := make([]image.Point, 0, n)
	for i := 0; i < n; i++ {
		t := 2 * math.Pi * float64(i) / float64(n)
		x := a*math.Cos(t)*math.Cos(theta) - b*math.Sin(t)*math.Sin(theta)
		y := a*math.Cos(t)*math.Sin(theta) + b*math.Sin(t)*math.Cos(theta)
		pts = append(pts, image.Pt(int(math.Round(xc+x)), int(math.Round(yc+y))))
	}
	return pts
}

// filledEllipse draws a binary mask (255 inside) of the given semi-axes.
func filledEllipse(w, h int, xc, yc, a, b float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := (float64(x)-xc)/a, (float64(y)-yc)/b
			if dx*dx+dy*dy <= 1 {
				img.Pix[y*img.Stride+x] = 255
			}
		}
	}
	return img
}

func within(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol
}

func TestFitEllipse(t *testing.T) {
	tests := []struct {
		name          string
		xc, yc, a, b  float64
		theta         float64
		wantThetaDeg  float64
		checkRotation bool
	}{
		{name: "axis aligned", xc: 128, yc: 128, a: 80, b: 50},
		{name: "rotated", xc: 120, yc: 140, a: 90, b: 40, theta: math.Pi / 6, wantThetaDeg: 30, checkRotation: true},
		{name: "circle", xc: 100, yc: 90, a: 60, b: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := FitEllipse(ellipsePoints(tt.xc, tt.yc, tt.a, tt.b, tt.theta, 360))
			if err != nil {
				t.Fatalf("FitEllipse: %v", err)
			}
			if !within(e.XC, tt.xc, 1) || !within(e.YC, tt.yc, 1) {
				t.Errorf("centre = (%.2f, %.2f), want (%.0f, %.0f)", e.XC, e.YC, tt.xc, tt.yc)
			}
			if !within(e.A, 2*tt.a, 2) || !within(e.B, 2*tt.b, 2) {
				t.Errorf("axes = (%.2f, %.2f), want (%.0f, %.0f)", e.A, e.B, 2*tt.a, 2*tt.b)
			}
			if tt.checkRotation && !within(e.Theta, tt.wantThetaDeg, 2) {
				t.Errorf("theta = %.2f, want %.0f", e.Theta, tt.wantThetaDeg)
			}
		})
	}
}

func TestFitEllipseTooFewPoints(t *testing.T) {
	_, err := FitEllipse([]image.Point{{0, 0}, {1, 1}, {2, 0}, {1, -1}})
	if !errors.Is(err, ErrTooFewPoints) {
		t.Fatalf("expected ErrTooFewPoints, got %v", err)
	}
}

func TestCircumference(t *testing.T) {
	e := Ellipse{A: 30, B: 40}
	want := 2 * math.Pi * math.Sqrt((900+1600)/2.0)
	if !within(e.Circumference(), want, 1e-9) {
		t.Errorf("Circumference = %f, want %f", e.Circumference(), want)
	}
}

func TestContourArea(t *testing.T) {
	square := []image.Point{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	if a := ContourArea(square); a != 100 {
		t.Errorf("area = %f, want 100", a)
	}
	if a := ContourArea(square[:2]); a != 0 {
		t.Errorf("degenerate area = %f, want 0", a)
	}
}

func TestContoursPicksLargest(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 40, 40))
	drawRect := func(x0, y0, x1, y1 int) {
		for x := x0; x <= x1; x++ {
			img.Pix[y0*img.Stride+x] = 255
			img.Pix[y1*img.Stride+x] = 255
		}
		for y := y0; y <= y1; y++ {
			img.Pix[y*img.Stride+x0] = 255
			img.Pix[y*img.Stride+x1] = 255
		}
	}
	drawRect(2, 2, 8, 8)
	drawRect(15, 15, 35, 35)

	contours := Contours(img)
	if len(contours) != 2 {
		t.Fatalf("found %d contours, want 2", len(contours))
	}

	largest := Largest(contours)
	if a := ContourArea(largest); a != 400 {
		t.Errorf("largest area = %f, want 400", a)
	}
}

func TestCannyOnBinaryMask(t *testing.T) {
	mask := filledEllipse(64, 64, 32, 32, 20, 12)
	edges := Canny(mask, CannyLow, CannyHigh)

	count := 0
	for _, v := range edges.Pix {
		if v == 255 {
			count++
		}
	}
	if count == 0 {
		t.Fatal("no edges detected")
	}
	if edges.Pix[32*edges.Stride+32] != 0 {
		t.Error("centre of the mask should not be an edge")
	}
}

func TestMeasure(t *testing.T) {
	mask := filledEllipse(256, 256, 128, 120, 90, 60)

	m, err := Measure(mask)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}

	want := Ellipse{A: 180, B: 120}.Circumference()
	if math.Abs(m.Circumference-want)/want > 0.08 {
		t.Errorf("circumference = %.1f, want about %.1f", m.Circumference, want)
	}
	if !within(m.Ellipse.XC, 128, 2) || !within(m.Ellipse.YC, 120, 2) {
		t.Errorf("centre = (%.1f, %.1f)", m.Ellipse.XC, m.Ellipse.YC)
	}
	if m.PixelValue <= 0 || m.PixelValue >= 255 {
		t.Errorf("pixel value = %f", m.PixelValue)
	}
}

func TestMeasureEmptyMask(t *testing.T) {
	_, err := Measure(image.NewGray(image.Rect(0, 0, 32, 32)))
	if !errors.Is(err, ErrNoContour) {
		t.Fatalf("expected ErrNoContour, got %v", err)
	}
}
