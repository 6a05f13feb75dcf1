package biometry

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoContour    = errors.New("no contours found in edge image")
	ErrTooFewPoints = errors.New("not enough points to fit an ellipse")
	ErrNotAnEllipse = errors.New("points do not describe an ellipse")
)

const minEllipsePoints = 5

// Ellipse is described by its centre, full axis lengths and the rotation of
// the first axis in degrees.
type Ellipse struct {
	XC    float64 `json:"xc"`
	YC    float64 `json:"yc"`
	A     float64 `json:"a"`
	B     float64 `json:"b"`
	Theta float64 `json:"theta"`
}

// Circumference approximates the perimeter as 2*pi*sqrt((a^2+b^2)/2).
func (e Ellipse) Circumference() float64 {
	return 2 * math.Pi * math.Sqrt((e.A*e.A+e.B*e.B)/2)
}

// FitEllipse fits an ellipse to pts with the direct least-squares method of
// Fitzgibbon, Pilu and Fisher in the numerically stable form of Halir and
// Flusser. Points are centred and scaled before the fit.
func FitEllipse(pts []image.Point) (Ellipse, error) {
	n := len(pts)
	if n < minEllipsePoints {
		return Ellipse{}, ErrTooFewPoints
	}

	var mx, my float64
	for _, p := range pts {
		mx += float64(p.X)
		my += float64(p.Y)
	}
	mx /= float64(n)
	my /= float64(n)

	var scale float64
	for _, p := range pts {
		scale += math.Hypot(float64(p.X)-mx, float64(p.Y)-my)
	}
	scale /= float64(n)
	if scale == 0 {
		return Ellipse{}, ErrNotAnEllipse
	}

	d1 := mat.NewDense(n, 3, nil)
	d2 := mat.NewDense(n, 3, nil)
	for i, p := range pts {
		x := (float64(p.X) - mx) / scale
		y := (float64(p.Y) - my) / scale
		d1.SetRow(i, []float64{x * x, x * y, y * y})
		d2.SetRow(i, []float64{x, y, 1})
	}

	var s1, s2, s3 mat.Dense
	s1.Mul(d1.T(), d1)
	s2.Mul(d1.T(), d2)
	s3.Mul(d2.T(), d2)

	var s3inv mat.Dense
	if err := s3inv.Inverse(&s3); err != nil {
		return Ellipse{}, fmt.Errorf("failed to invert scatter matrix: %w", err)
	}

	// t = -inv(s3) * s2'
	var t mat.Dense
	t.Mul(&s3inv, s2.T())
	t.Scale(-1, &t)

	var m mat.Dense
	m.Mul(&s2, &t)
	m.Add(&s1, &m)

	// premultiply by inv(C1)
	reduced := mat.NewDense(3, 3, nil)
	for j := 0; j < 3; j++ {
		reduced.Set(0, j, m.At(2, j)/2)
		reduced.Set(1, j, -m.At(1, j))
		reduced.Set(2, j, m.At(0, j)/2)
	}

	var eig mat.Eigen
	if ok := eig.Factorize(reduced, mat.EigenRight); !ok {
		return Ellipse{}, errors.New("eigen decomposition failed")
	}
	var vecs mat.CDense
	eig.VectorsTo(&vecs)

	a1 := make([]float64, 3)
	found := false
	for j := 0; j < 3; j++ {
		v0, v1, v2 := real(vecs.At(0, j)), real(vecs.At(1, j)), real(vecs.At(2, j))
		if 4*v0*v2-v1*v1 > 0 {
			a1[0], a1[1], a1[2] = v0, v1, v2
			found = true
			break
		}
	}
	if !found {
		return Ellipse{}, ErrNotAnEllipse
	}

	a2 := mat.NewVecDense(3, nil)
	a2.MulVec(&t, mat.NewVecDense(3, a1))

	return conicToEllipse(a1[0], a1[1], a1[2], a2.AtVec(0), a2.AtVec(1), a2.AtVec(2), mx, my, scale)
}

// conicToEllipse converts Ax^2+Bxy+Cy^2+Dx+Ey+F=0 (in normalized
// coordinates) to geometric parameters in image coordinates.
func conicToEllipse(a, b, c, d, e, f, mx, my, scale float64) (Ellipse, error) {
	// the eigenvector sign is arbitrary
	if a+c < 0 {
		a, b, c, d, e, f = -a, -b, -c, -d, -e, -f
	}

	disc := b*b - 4*a*c
	if disc >= 0 {
		return Ellipse{}, ErrNotAnEllipse
	}

	x0 := (2*c*d - b*e) / disc
	y0 := (2*a*e - b*d) / disc

	num := 2 * (a*e*e + c*d*d - b*d*e + disc*f)
	root := math.Sqrt((a-c)*(a-c) + b*b)
	major := num * (a + c + root)
	minor := num * (a + c - root)
	if major <= 0 || minor <= 0 {
		return Ellipse{}, ErrNotAnEllipse
	}
	semiMajor := math.Sqrt(major) / math.Abs(disc)
	semiMinor := math.Sqrt(minor) / math.Abs(disc)

	var theta float64
	switch {
	case b != 0:
		theta = math.Atan((c - a - root) / b)
	case a < c:
		theta = 0
	default:
		theta = math.Pi / 2
	}
	deg := theta * 180 / math.Pi
	if deg < 0 {
		deg += 180
	}

	return Ellipse{
		XC:    x0*scale + mx,
		YC:    y0*scale + my,
		A:     2 * semiMajor * scale,
		B:     2 * semiMinor * scale,
		Theta: deg,
	}, nil
}
