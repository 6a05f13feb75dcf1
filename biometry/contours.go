package biometry

import (
	"image"
	"math"
)

// neighbours in clockwise order (y grows downwards), starting east.
var neighbours = [8]image.Point{
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
}

// Contours returns the outer boundary of every 8-connected group of
// non-zero pixels in edges, each as an ordered list of points.
func Contours(edges *image.Gray) [][]image.Point {
	b := edges.Bounds()
	w, h := b.Dx(), b.Dy()

	labels := make([]int, w*h)
	var contours [][]image.Point
	next := 0

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if edges.Pix[y*edges.Stride+x] == 0 || labels[i] != 0 {
				continue
			}
			next++
			size := label(edges, labels, x, y, next)
			contours = append(contours, trace(labels, w, h, image.Pt(x, y), next, size))
		}
	}
	return contours
}

// label flood-fills the component containing (x, y) and returns its size.
func label(edges *image.Gray, labels []int, x, y, id int) int {
	w, h := edges.Bounds().Dx(), edges.Bounds().Dy()
	stack := []image.Point{{x, y}}
	labels[y*w+x] = id
	size := 0

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		size++
		for _, d := range neighbours {
			q := p.Add(d)
			if q.X < 0 || q.Y < 0 || q.X >= w || q.Y >= h {
				continue
			}
			j := q.Y*w + q.X
			if labels[j] == 0 && edges.Pix[q.Y*edges.Stride+q.X] != 0 {
				labels[j] = id
				stack = append(stack, q)
			}
		}
	}
	return size
}

// trace follows the outer border of component id clockwise with a radial
// sweep, starting from its top-left pixel.
func trace(labels []int, w, h int, start image.Point, id, size int) []image.Point {
	inside := func(p image.Point) bool {
		return p.X >= 0 && p.Y >= 0 && p.X < w && p.Y < h && labels[p.Y*w+p.X] == id
	}

	contour := []image.Point{start}
	p := start
	back := 4 // the pixel west of the top-left start is background
	var second image.Point
	limit := 4*size + 8

	for step := 0; step < limit; step++ {
		found := -1
		for k := 1; k <= 8; k++ {
			d := (back + k) % 8
			if inside(p.Add(neighbours[d])) {
				found = d
				break
			}
		}
		if found < 0 {
			break
		}

		q := p.Add(neighbours[found])
		if step == 0 {
			second = q
		} else if p == start && q == second {
			break
		}
		contour = append(contour, q)
		back = (found + 4) % 8
		p = q
	}

	// drop the closing repeat of the start point
	if n := len(contour); n > 1 && contour[n-1] == start {
		contour = contour[:n-1]
	}
	return contour
}

// ContourArea is the absolute shoelace area of a closed contour.
func ContourArea(pts []image.Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	var sum float64
	for i := range pts {
		j := (i + 1) % len(pts)
		sum += float64(pts[i].X*pts[j].Y - pts[j].X*pts[i].Y)
	}
	return math.Abs(sum) / 2
}

// Largest returns the contour with the greatest enclosed area.
func Largest(contours [][]image.Point) []image.Point {
	var best []image.Point
	bestArea := -1.0
	for _, c := range contours {
		if a := ContourArea(c); a > bestArea {
			best, bestArea = c, a
		}
	}
	return best
}
