package mercator

import (
	"fmt"
	"image"
	"math"
)

// Plan is the result of mapping a bounding box to the tile grid: the
// zoom level, the inclusive tile index range covering the box, and the
// pixel rectangle to crop from the assembled canvas.
type Plan struct {
	Zoom       int
	Resolution Resolution

	// Inclusive tile index range. XMin..XMax runs west to east,
	// YMin..YMax north to south.
	XMin, XMax int
	YMin, YMax int

	// Crop is the bounding box's pixel footprint within the full
	// tile-grid canvas (origin at the top-left of tile XMin,YMin).
	// Its width is exactly the requested output width.
	Crop image.Rectangle
}

// TileSize returns the tile edge length in pixels.
func (p Plan) TileSize() int { return p.Resolution.TileSize() }

// Columns returns the number of tile columns in the grid.
func (p Plan) Columns() int { return p.XMax - p.XMin + 1 }

// Rows returns the number of tile rows in the grid.
func (p Plan) Rows() int { return p.YMax - p.YMin + 1 }

// NumTiles returns the total number of tiles in the grid.
func (p Plan) NumTiles() int { return p.Columns() * p.Rows() }

// Tiles enumerates the grid row-major: north to south, west to east.
func (p Plan) Tiles() []Tile {
	tiles := make([]Tile, 0, p.NumTiles())
	for y := p.YMin; y <= p.YMax; y++ {
		for x := p.XMin; x <= p.XMax; x++ {
			tiles = append(tiles, Tile{X: x, Y: y, Zoom: p.Zoom})
		}
	}
	return tiles
}

// Cell returns the grid row/column of a tile in the plan.
func (p Plan) Cell(t Tile) (row, col int) {
	return t.Y - p.YMin, t.X - p.XMin
}

// CanvasSize returns the pixel dimensions of the full uncropped canvas.
func (p Plan) CanvasSize() (w, h int) {
	return p.Columns() * p.TileSize(), p.Rows() * p.TileSize()
}

// NewPlan maps a bounding box and a desired output width to a zoom
// level, a tile grid and a crop rectangle.
//
// The zoom is the smallest level at which the box's Mercator footprint
// is at least widthPx wide, so the assembled canvas can be cropped down
// to exactly widthPx without upsampling. The crop height follows from
// the latitude span at that zoom.
func NewPlan(bbox BoundingBox, widthPx int, res Resolution) (Plan, error) {
	if err := bbox.Validate(); err != nil {
		return Plan{}, err
	}
	if widthPx <= 0 {
		return Plan{}, fmt.Errorf("%w: width must be positive, got %d", ErrInvalidWidth, widthPx)
	}

	tileSize := res.TileSize()
	zoom := -1
	for z := 0; z <= MaxZoom; z++ {
		if PixelWidth(bbox, z, tileSize) >= float64(widthPx) {
			zoom = z
			break
		}
	}
	if zoom < 0 {
		return Plan{}, fmt.Errorf("%w: width %dpx needs zoom > %d for this box", ErrZoomExceeded, widthPx, MaxZoom)
	}

	nw := TileAt(bbox.LatMax, bbox.LonMin, zoom)
	se := TileAt(bbox.LatMin, bbox.LonMax, zoom)

	p := Plan{
		Zoom:       zoom,
		Resolution: res,
		XMin:       nw.X,
		XMax:       se.X,
		YMin:       min(nw.Y, se.Y),
		YMax:       max(nw.Y, se.Y),
	}

	// Pixel footprint of the box relative to the canvas origin.
	n := float64(int(1) << zoom)
	scale := n * float64(tileSize)
	x0 := NormX(bbox.LonMin)*scale - float64(p.XMin*tileSize)
	y0 := NormY(bbox.LatMax)*scale - float64(p.YMin*tileSize)
	y1 := NormY(bbox.LatMin)*scale - float64(p.YMin*tileSize)

	cropX := int(math.Floor(x0))
	cropY := int(math.Floor(y0))
	cropH := int(math.Round(y1 - y0))
	if cropH < 1 {
		cropH = 1
	}
	canvasW, canvasH := p.CanvasSize()
	if cropX+widthPx > canvasW {
		cropX = canvasW - widthPx
	}
	if cropY+cropH > canvasH {
		cropH = canvasH - cropY
	}
	p.Crop = image.Rect(cropX, cropY, cropX+widthPx, cropY+cropH)

	return p, nil
}
