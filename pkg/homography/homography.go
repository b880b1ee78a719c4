// Package homography maps pixel coordinates onto a calibrated ground plane.
//
// The transform is the standard 3x3 planar homography, fixed for the
// lifetime of a Mapper. Construction takes exactly four image/world point
// correspondences (a calibration quadrilateral marked on the road surface,
// with its known real-world dimensions in meters) and solves the resulting
// 8-unknown linear system.
package homography

import (
	"errors"
	"fmt"
	"math"

	"github.com/velocam/speedcam/pkg/geom"
	"gonum.org/v1/gonum/mat"
)

// ErrCalibration means the four calibration points are degenerate
// (collinear, repeated, or non-finite). Fatal: a Mapper cannot be built.
var ErrCalibration = errors.New("degenerate calibration points")

// ErrMapping means a point maps to (or near) infinity under the transform,
// i.e. it lies on the camera's horizon line. The caller should drop the
// point and carry on.
var ErrMapping = errors.New("point maps to infinity")

// Homogeneous coordinates with |w| below this are treated as infinite.
const wEpsilon = 1e-9

// WorldPoint is a position on the ground plane, in meters.
type WorldPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p WorldPoint) Distance(b WorldPoint) float64 {
	return math.Hypot(p.X-b.X, p.Y-b.Y)
}

// Mapper converts pixel coordinates to ground-plane coordinates and back.
// It is immutable after construction; recalibration means a new Mapper.
type Mapper struct {
	fwd [9]float64 // image -> world, row major, fwd[8] == 1
	inv [9]float64 // world -> image
}

// NewMapper computes the homography mapping imagePoints[i] onto
// worldPoints[i]. Both quadrilaterals must be simple and wound the same
// way. Returns ErrCalibration if the correspondences are degenerate.
func NewMapper(imagePoints [4]geom.Point, worldPoints [4]WorldPoint) (*Mapper, error) {
	var src, dst [4][2]float64
	for i := 0; i < 4; i++ {
		src[i] = [2]float64{float64(imagePoints[i].X), float64(imagePoints[i].Y)}
		dst[i] = [2]float64{worldPoints[i].X, worldPoints[i].Y}
		for _, v := range []float64{src[i][0], src[i][1], dst[i][0], dst[i][1]} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: point %v is not finite", ErrCalibration, i)
			}
		}
	}
	fwd, err := solvePerspective(src, dst)
	if err != nil {
		return nil, err
	}
	inv, err := solvePerspective(dst, src)
	if err != nil {
		return nil, err
	}
	return &Mapper{fwd: fwd, inv: inv}, nil
}

// ToWorld maps a pixel position to ground-plane meters.
func (m *Mapper) ToWorld(p geom.Point) (WorldPoint, error) {
	x, y, err := apply(&m.fwd, float64(p.X), float64(p.Y))
	if err != nil {
		return WorldPoint{}, err
	}
	return WorldPoint{X: x, Y: y}, nil
}

// ToImage maps a ground-plane position back to pixels.
func (m *Mapper) ToImage(p WorldPoint) (geom.Point, error) {
	x, y, err := apply(&m.inv, p.X, p.Y)
	if err != nil {
		return geom.Point{}, err
	}
	return geom.Point{X: float32(x), Y: float32(y)}, nil
}

func apply(h *[9]float64, x, y float64) (float64, float64, error) {
	w := h[6]*x + h[7]*y + h[8]
	if math.Abs(w) < wEpsilon {
		return 0, 0, fmt.Errorf("%w: (%v, %v)", ErrMapping, x, y)
	}
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w, nil
}

// solvePerspective finds the homography H (with H[2][2] fixed at 1) such
// that H * src[i] == dst[i] for the four correspondences. Four points give
// exactly eight equations for the eight unknowns.
func solvePerspective(src, dst [4][2]float64) ([9]float64, error) {
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		sx, sy := src[i][0], src[i][1]
		dx, dy := dst[i][0], dst[i][1]
		a.SetRow(i*2, []float64{sx, sy, 1, 0, 0, 0, -dx * sx, -dx * sy})
		a.SetRow(i*2+1, []float64{0, 0, 0, sx, sy, 1, -dy * sx, -dy * sy})
		b.SetVec(i*2, dx)
		b.SetVec(i*2+1, dy)
	}
	var h mat.VecDense
	// Singular and near-singular systems (eg three collinear points) both
	// come back as errors from the solver.
	if err := h.SolveVec(a, b); err != nil {
		return [9]float64{}, fmt.Errorf("%w: %v", ErrCalibration, err)
	}
	var out [9]float64
	for i := 0; i < 8; i++ {
		out[i] = h.AtVec(i)
	}
	out[8] = 1
	return out, nil
}
