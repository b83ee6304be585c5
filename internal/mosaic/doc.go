// Package mosaic composes fetched tiles into the final raster.
//
// Assembly allocates a canvas covering the whole tile grid, draws each
// decoded tile at its grid offset, fills missing cells with the
// sentinel color, and crops the canvas to the plan's pixel rectangle so
// the output is exactly the requested width.
//
// # Usage
//
//	img := mosaic.Assemble(set.Images(), plan.TileSize(), plan.Crop)
//	err := mosaic.WriteJPEG(ctx, bucket, mosaic.ResultKey, img, 90)
package mosaic
