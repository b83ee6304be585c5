package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"

	_ "image/jpeg" // tile decoding
	_ "image/png"  // some styles serve PNG tiles

	"gocloud.dev/blob"

	"github.com/mhamas/big-map/internal/mapbox"
	"github.com/mhamas/big-map/internal/progress"
	"github.com/mhamas/big-map/pkg/mercator"
)

// Options configures the fetch phase.
type Options struct {
	// Workers is the number of parallel fetch workers.
	Workers int

	// StyleID is the map style to fetch tiles for.
	StyleID string

	// Token is the tile service credential.
	Token string

	// MaxDegradedRatio is the proportion of degraded tiles above which
	// the run fails instead of producing a mostly-empty mosaic.
	// Zero means the default of 0.5; a negative value tolerates no
	// degraded tiles at all.
	MaxDegradedRatio float64

	// Progress is an optional progress reporter.
	Progress *progress.Reporter
}

// Degraded records a tile whose retries were exhausted without a
// permanent error signal. Its grid cell is left empty.
type Degraded struct {
	Tile mercator.Tile
	Err  error
}

// PermanentError is returned when the tile service rejected a request
// in a way that would repeat for every tile (bad token, unknown style).
type PermanentError struct {
	Tile mercator.Tile
	Err  error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("tile %s failed permanently: %v", e.Tile, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// DegradedError is returned when too many tiles degraded for the
// mosaic to be useful.
type DegradedError struct {
	Failed int
	Total  int
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("%d of %d tiles could not be fetched", e.Failed, e.Total)
}

// TileSet holds the decoded tiles of a plan, indexed by grid cell.
// Cells whose fetch degraded are nil.
type TileSet struct {
	Plan     mercator.Plan
	Degraded []Degraded

	images [][]image.Image
}

// At returns the decoded image for a grid cell, or nil if the cell
// degraded.
func (s *TileSet) At(row, col int) image.Image {
	return s.images[row][col]
}

// Images returns the grid of decoded tiles, rows north to south.
func (s *TileSet) Images() [][]image.Image {
	return s.images
}

// TileKey is the deterministic object name for a tile's raw bytes, so
// persisted tiles correspond 1:1 with grid cells.
func TileKey(t mercator.Tile) string {
	return fmt.Sprintf("%d_%d_%d.jpg", t.X, t.Y, t.Zoom)
}

// Fetch retrieves every tile of the plan using a bounded worker pool,
// persisting raw tiles to the bucket and decoding them for assembly.
//
// It returns after all tiles have settled. Transient per-tile failures
// degrade the cell; permanent failures cancel outstanding work and fail
// the run.
func Fetch(ctx context.Context, client *mapbox.Client, bucket *blob.Bucket, plan mercator.Plan, opts Options) (*TileSet, error) {
	// Apply defaults
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.MaxDegradedRatio == 0 {
		opts.MaxDegradedRatio = 0.5
	}

	set := &TileSet{
		Plan:   plan,
		images: make([][]image.Image, plan.Rows()),
	}
	for row := range set.images {
		set.images[row] = make([]image.Image, plan.Columns())
	}

	// Fatal-failure state: first permanent error wins and cancels the rest.
	var (
		fatalMu sync.Mutex
		fatal   error
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fail := func(err error) {
		fatalMu.Lock()
		if fatal == nil {
			fatal = err
		}
		fatalMu.Unlock()
		cancel()
	}

	var degradedMu sync.Mutex

	jobs := make(chan mercator.Tile, opts.Workers)
	var wg sync.WaitGroup

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tile := range jobs {
				img, raw, err := fetchTile(runCtx, client, tile, plan, opts)

				switch {
				case runCtx.Err() != nil:
					if opts.Progress != nil {
						opts.Progress.TileAborted()
					}
					return
				case err != nil && mapbox.IsPermanent(err):
					if opts.Progress != nil {
						opts.Progress.TileFailed()
					}
					fail(&PermanentError{Tile: tile, Err: err})
					return
				case err != nil:
					degradedMu.Lock()
					set.Degraded = append(set.Degraded, Degraded{Tile: tile, Err: err})
					degradedMu.Unlock()
					if opts.Progress != nil {
						opts.Progress.TileFailed()
					}
					continue
				}

				if err := bucket.WriteAll(runCtx, TileKey(tile), raw, nil); err != nil {
					if opts.Progress != nil {
						opts.Progress.TileAborted()
					}
					fail(fmt.Errorf("persist tile %s: %w", tile, err))
					return
				}

				// Each worker writes a disjoint grid cell; no lock needed.
				row, col := plan.Cell(tile)
				set.images[row][col] = img

				if opts.Progress != nil {
					opts.Progress.TileCompleted(int64(len(raw)))
				}
			}
		}()
	}

	// Feed the grid to the workers.
	go func() {
		defer close(jobs)
		for _, tile := range plan.Tiles() {
			select {
			case jobs <- tile:
			case <-runCtx.Done():
				return
			}
		}
	}()

	wg.Wait()

	fatalMu.Lock()
	err := fatal
	fatalMu.Unlock()
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if n := len(set.Degraded); n > 0 && float64(n)/float64(plan.NumTiles()) > opts.MaxDegradedRatio {
		return nil, &DegradedError{Failed: n, Total: plan.NumTiles()}
	}

	return set, nil
}

// fetchTile retrieves and decodes a single tile.
func fetchTile(ctx context.Context, client *mapbox.Client, tile mercator.Tile, plan mercator.Plan, opts Options) (image.Image, []byte, error) {
	if opts.Progress != nil {
		opts.Progress.TileStarted()
	}

	raw, err := client.GetTile(ctx, mapbox.TileRequest{
		StyleID:  opts.StyleID,
		Zoom:     tile.Zoom,
		X:        tile.X,
		Y:        tile.Y,
		TileSize: plan.TileSize(),
		Token:    opts.Token,
	})
	if err != nil {
		return nil, nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("decode tile %s: %w", tile, err)
	}
	size := img.Bounds().Size()
	if size.X != plan.TileSize() || size.Y != plan.TileSize() {
		return nil, nil, fmt.Errorf("tile %s: expected %dx%d pixels, got %dx%d",
			tile, plan.TileSize(), plan.TileSize(), size.X, size.Y)
	}

	return img, raw, nil
}
