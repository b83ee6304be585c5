// Package mercator maps geographic bounding boxes onto the slippy-map tile
// grid used by Web-Mercator tile services.
//
// The package is pure math: no I/O, no randomness. Planning the same inputs
// twice yields the same result.
//
// # Planning
//
// The main entry point is [NewPlan]:
//
//	plan, err := mercator.NewPlan(mercator.BoundingBox{
//	    LatMin: 37.718, LatMax: 37.816,
//	    LonMin: -122.543, LonMax: -122.353,
//	}, 1000, mercator.HighRes)
//
// The resulting [Plan] carries:
//   - Zoom: the smallest zoom level at which the bounding box spans at
//     least the requested pixel width
//   - the inclusive tile index range covering the box (rows north to
//     south, columns west to east, contiguous)
//   - Crop: the pixel rectangle of the requested box within the full
//     tile-grid canvas, exactly widthPx wide
//
// # Coordinate conventions
//
// Tile indices follow the standard XYZ scheme: origin at the top-left
// (north-west) of the zoom level's grid, x growing east, y growing south.
// A boundary lying exactly on a tile edge belongs to the tile to its
// east/south (floor semantics).
//
// Inputs must stay within the Mercator-valid range (|lat| <= ~85.05°,
// |lon| <= 180°); the package rejects anything else rather than guessing
// antimeridian or pole wrap-around semantics.
package mercator
