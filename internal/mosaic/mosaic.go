package mosaic

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"gocloud.dev/blob"
)

// ResultKey is the object name of the assembled mosaic.
const ResultKey = "result.jpg"

// Sentinel is the fill for grid cells whose tile could not be fetched.
// Opaque black, matching a zeroed canvas; JPEG output carries no alpha.
var Sentinel = color.RGBA{A: 255}

// Assemble composes a grid of decoded tiles into one raster and crops
// it to the given rectangle. Rows run north to south, columns west to
// east; tiles[row][col] == nil marks a degraded cell, which is filled
// with Sentinel instead of aborting.
//
// The returned image has the crop's dimensions with origin (0, 0).
func Assemble(tiles [][]image.Image, tileSize int, crop image.Rectangle) *image.RGBA {
	rows := len(tiles)
	cols := 0
	if rows > 0 {
		cols = len(tiles[0])
	}

	canvas := image.NewRGBA(image.Rect(0, 0, cols*tileSize, rows*tileSize))
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			cell := image.Rect(col*tileSize, row*tileSize, (col+1)*tileSize, (row+1)*tileSize)
			if tile := tiles[row][col]; tile != nil {
				draw.Draw(canvas, cell, tile, tile.Bounds().Min, draw.Src)
			} else {
				draw.Draw(canvas, cell, image.NewUniform(Sentinel), image.Point{}, draw.Src)
			}
		}
	}

	out := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	draw.Draw(out, out.Bounds(), canvas, crop.Min, draw.Src)
	return out
}

// WriteJPEG encodes the image and persists it in the bucket under key.
func WriteJPEG(ctx context.Context, bucket *blob.Bucket, key string, img image.Image, quality int) error {
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: "image/jpeg"})
	if err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}

	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		w.Close()
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
