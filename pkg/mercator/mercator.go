package mercator

import (
	"errors"
	"fmt"
	"math"
)

// MaxLatitude is the northern/southern limit of the Web-Mercator
// projection; latitudes beyond it project to infinity.
const MaxLatitude = 85.05112878

// MaxZoom is the highest zoom level supported by the tile service.
const MaxZoom = 22

// Common errors.
var (
	ErrInvalidBoundingBox = errors.New("mercator: invalid bounding box")
	ErrInvalidWidth       = errors.New("mercator: invalid output width")
	ErrZoomExceeded       = errors.New("mercator: requested width exceeds the maximum supported zoom")
)

// BoundingBox is a geographic rectangle in degrees.
type BoundingBox struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

// Validate checks that the box is well-formed and within the
// Mercator-valid range.
func (b BoundingBox) Validate() error {
	switch {
	case math.IsNaN(b.LatMin) || math.IsNaN(b.LatMax) || math.IsNaN(b.LonMin) || math.IsNaN(b.LonMax):
		return fmt.Errorf("%w: coordinates must be numbers", ErrInvalidBoundingBox)
	case b.LonMin < -180 || b.LonMax > 180:
		return fmt.Errorf("%w: longitude must be within [-180, 180], got [%v, %v]", ErrInvalidBoundingBox, b.LonMin, b.LonMax)
	case b.LatMin < -MaxLatitude || b.LatMax > MaxLatitude:
		return fmt.Errorf("%w: latitude must be within [-%v, %v], got [%v, %v]", ErrInvalidBoundingBox, MaxLatitude, MaxLatitude, b.LatMin, b.LatMax)
	case b.LatMin >= b.LatMax:
		return fmt.Errorf("%w: latMin (%v) must be less than latMax (%v)", ErrInvalidBoundingBox, b.LatMin, b.LatMax)
	case b.LonMin >= b.LonMax:
		return fmt.Errorf("%w: lonMin (%v) must be less than lonMax (%v)", ErrInvalidBoundingBox, b.LonMin, b.LonMax)
	}
	return nil
}

// Resolution selects the tile pixel size served by the tile service.
type Resolution int

const (
	// StandardRes requests 256x256 pixel tiles.
	StandardRes Resolution = iota
	// HighRes requests 512x512 pixel tiles.
	HighRes
)

// TileSize returns the tile edge length in pixels.
func (r Resolution) TileSize() int {
	if r == HighRes {
		return 512
	}
	return 256
}

func (r Resolution) String() string {
	if r == HighRes {
		return "high (512px)"
	}
	return "standard (256px)"
}

// Tile identifies a single slippy-map tile.
type Tile struct {
	X, Y, Zoom int
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Zoom, t.X, t.Y)
}

// NormX maps longitude to the normalized [0, 1) Mercator x coordinate.
func NormX(lonDeg float64) float64 {
	return (lonDeg + 180) / 360
}

// NormY maps latitude to the normalized [0, 1) Mercator y coordinate
// (0 at the north edge, growing southward). The result is clamped so
// near-pole latitudes cannot produce values outside the unit interval.
func NormY(latDeg float64) float64 {
	latRad := latDeg * math.Pi / 180
	y := (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2
	return math.Min(math.Max(y, 0), 1)
}

// TileAt returns the tile containing the given coordinate at a zoom level.
func TileAt(latDeg, lonDeg float64, zoom int) Tile {
	n := float64(int(1) << zoom)
	x := int(math.Floor(NormX(lonDeg) * n))
	y := int(math.Floor(NormY(latDeg) * n))
	max := (1 << zoom) - 1
	if x > max {
		x = max
	}
	if y > max {
		y = max
	}
	return Tile{X: x, Y: y, Zoom: zoom}
}

// NorthWest returns the latitude/longitude of the tile's north-west corner.
func (t Tile) NorthWest() (latDeg, lonDeg float64) {
	n := float64(int(1) << t.Zoom)
	lonDeg = float64(t.X)/n*360 - 180
	latDeg = math.Atan(math.Sinh(math.Pi*(1-2*float64(t.Y)/n))) * 180 / math.Pi
	return latDeg, lonDeg
}

// PixelWidth returns the width in pixels the bounding box occupies when
// rendered at the given zoom with the given tile size.
func PixelWidth(b BoundingBox, zoom, tileSize int) float64 {
	return (NormX(b.LonMax) - NormX(b.LonMin)) * float64(int(1)<<zoom) * float64(tileSize)
}
