package fetcher

import (
	"context"
	"errors"
	"image"
	"io"
	"testing"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/mhamas/big-map/internal/mapbox"
	"github.com/mhamas/big-map/internal/progress"
	"github.com/mhamas/big-map/internal/testutils"
	"github.com/mhamas/big-map/pkg/mercator"
)

func testPlan() mercator.Plan {
	return mercator.Plan{
		Zoom:       5,
		Resolution: mercator.StandardRes,
		XMin:       10, XMax: 11,
		YMin: 20, YMax: 21,
		Crop: image.Rect(0, 0, 300, 300),
	}
}

func testClient(baseURL string) *mapbox.Client {
	opts := mapbox.DefaultOptions()
	opts.BaseURL = baseURL
	opts.RetryAttempts = 3
	opts.RetryBackoff = time.Millisecond
	opts.RetryMaxBackoff = 5 * time.Millisecond
	return mapbox.NewClient(opts)
}

func openBucket(t *testing.T, ctx context.Context) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

func TestFetchAllTiles(t *testing.T) {
	ctx := context.Background()
	server := testutils.NewTileServer(t, 256)
	bucket := openBucket(t, ctx)
	plan := testPlan()

	set, err := Fetch(ctx, testClient(server.URL), bucket, plan, Options{
		Workers: 4,
		StyleID: "streets-v11",
		Token:   "tok",
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if len(set.Degraded) != 0 {
		t.Fatalf("expected no degraded tiles, got %v", set.Degraded)
	}

	for _, tile := range plan.Tiles() {
		row, col := plan.Cell(tile)
		img := set.At(row, col)
		if img == nil {
			t.Fatalf("tile %s missing from set", tile)
		}
		if got := img.Bounds().Size(); got.X != 256 || got.Y != 256 {
			t.Errorf("tile %s: unexpected size %v", tile, got)
		}

		// JPEG is lossy; compare with tolerance.
		want := testutils.TileColor(tile.X, tile.Y, tile.Zoom)
		r, g, b, _ := img.At(128, 128).RGBA()
		if delta(uint8(r>>8), want.R) > 15 || delta(uint8(g>>8), want.G) > 15 || delta(uint8(b>>8), want.B) > 15 {
			t.Errorf("tile %s: pixel color too far from %v", tile, want)
		}

		exists, err := bucket.Exists(ctx, TileKey(tile))
		if err != nil {
			t.Fatalf("Exists: %v", err)
		}
		if !exists {
			t.Errorf("tile file %s not persisted", TileKey(tile))
		}
	}
}

func TestFetchDegradesFailedTile(t *testing.T) {
	ctx := context.Background()
	server := testutils.NewTileServer(t, 256)
	server.FailTile(10, 20, 5, 502, -1)
	bucket := openBucket(t, ctx)
	plan := testPlan()

	set, err := Fetch(ctx, testClient(server.URL), bucket, plan, Options{
		Workers:          2,
		StyleID:          "streets-v11",
		Token:            "tok",
		MaxDegradedRatio: 0.9,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if len(set.Degraded) != 1 {
		t.Fatalf("expected 1 degraded tile, got %d", len(set.Degraded))
	}
	bad := mercator.Tile{X: 10, Y: 20, Zoom: 5}
	if set.Degraded[0].Tile != bad {
		t.Errorf("degraded tile = %v, want %v", set.Degraded[0].Tile, bad)
	}

	row, col := plan.Cell(bad)
	if set.At(row, col) != nil {
		t.Error("degraded cell must stay nil")
	}

	exists, err := bucket.Exists(ctx, TileKey(bad))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("degraded tile must not be persisted")
	}

	// The other three cells are intact.
	for _, tile := range plan.Tiles() {
		if tile == bad {
			continue
		}
		row, col := plan.Cell(tile)
		if set.At(row, col) == nil {
			t.Errorf("tile %s unexpectedly missing", tile)
		}
	}
}

func TestFetchRecoversAfterTransientFailures(t *testing.T) {
	ctx := context.Background()
	server := testutils.NewTileServer(t, 256)
	server.FailTile(11, 21, 5, 500, 2)
	bucket := openBucket(t, ctx)

	set, err := Fetch(ctx, testClient(server.URL), bucket, testPlan(), Options{
		Workers: 2,
		StyleID: "streets-v11",
		Token:   "tok",
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(set.Degraded) != 0 {
		t.Fatalf("expected retries to recover, got degraded %v", set.Degraded)
	}
	if got := server.Requests(11, 21, 5); got != 3 {
		t.Errorf("expected 3 requests for the flaky tile, got %d", got)
	}
}

func TestFetchPermanentFailureCancelsRun(t *testing.T) {
	ctx := context.Background()
	server := testutils.NewTileServer(t, 256)
	server.Token = "good"
	bucket := openBucket(t, ctx)
	plan := testPlan()

	// Single worker: after the first 401 nothing else may be requested.
	_, err := Fetch(ctx, testClient(server.URL), bucket, plan, Options{
		Workers: 1,
		StyleID: "streets-v11",
		Token:   "bad",
	})

	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected PermanentError, got %v", err)
	}
	if !errors.Is(err, mapbox.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized cause, got %v", err)
	}
	if got := server.TotalRequests(); got != 1 {
		t.Errorf("expected fetching to stop after the first rejection, got %d requests", got)
	}
}

func TestFetchTooManyDegraded(t *testing.T) {
	ctx := context.Background()
	server := testutils.NewTileServer(t, 256)
	plan := testPlan()
	for _, tile := range plan.Tiles() {
		server.FailTile(tile.X, tile.Y, tile.Zoom, 503, -1)
	}
	bucket := openBucket(t, ctx)

	_, err := Fetch(ctx, testClient(server.URL), bucket, plan, Options{
		Workers: 2,
		StyleID: "streets-v11",
		Token:   "tok",
	})

	var deg *DegradedError
	if !errors.As(err, &deg) {
		t.Fatalf("expected DegradedError, got %v", err)
	}
	if deg.Failed != 4 || deg.Total != 4 {
		t.Errorf("DegradedError = %+v, want 4/4", deg)
	}
}

func TestFetchDegradesUndecodableTile(t *testing.T) {
	ctx := context.Background()
	server := testutils.NewTileServer(t, 256)
	server.ServeRaw(11, 20, 5, []byte("these bytes are not an image"))
	bucket := openBucket(t, ctx)
	plan := testPlan()

	set, err := Fetch(ctx, testClient(server.URL), bucket, plan, Options{
		Workers:          2,
		StyleID:          "streets-v11",
		Token:            "tok",
		MaxDegradedRatio: 0.9,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if len(set.Degraded) != 1 {
		t.Fatalf("expected 1 degraded tile, got %d", len(set.Degraded))
	}
	bad := mercator.Tile{X: 11, Y: 20, Zoom: 5}
	if set.Degraded[0].Tile != bad {
		t.Errorf("degraded tile = %v, want %v", set.Degraded[0].Tile, bad)
	}

	row, col := plan.Cell(bad)
	if set.At(row, col) != nil {
		t.Error("undecodable cell must stay nil")
	}

	exists, err := bucket.Exists(ctx, TileKey(bad))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("undecodable tile must not be persisted")
	}

	// Decode failures are not retried.
	if got := server.Requests(11, 20, 5); got != 1 {
		t.Errorf("expected 1 request for the corrupt tile, got %d", got)
	}
}

func TestFetchDegradesWrongSizeTile(t *testing.T) {
	ctx := context.Background()
	server := testutils.NewTileServer(t, 256)
	bad := mercator.Tile{X: 10, Y: 21, Zoom: 5}
	server.ServeRaw(bad.X, bad.Y, bad.Zoom, testutils.JPEGTile(t, 128, testutils.TileColor(bad.X, bad.Y, bad.Zoom)))
	bucket := openBucket(t, ctx)
	plan := testPlan()

	set, err := Fetch(ctx, testClient(server.URL), bucket, plan, Options{
		Workers:          2,
		StyleID:          "streets-v11",
		Token:            "tok",
		MaxDegradedRatio: 0.9,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if len(set.Degraded) != 1 || set.Degraded[0].Tile != bad {
		t.Fatalf("expected the 128px tile to degrade, got %v", set.Degraded)
	}
	row, col := plan.Cell(bad)
	if set.At(row, col) != nil {
		t.Error("wrong-sized cell must stay nil")
	}

	// The correctly sized cells are intact.
	for _, tile := range plan.Tiles() {
		if tile == bad {
			continue
		}
		row, col := plan.Cell(tile)
		if set.At(row, col) == nil {
			t.Errorf("tile %s unexpectedly missing", tile)
		}
	}
}

func TestFetchCountsPermanentFailureAsFailed(t *testing.T) {
	ctx := context.Background()
	server := testutils.NewTileServer(t, 256)
	server.Token = "good"
	bucket := openBucket(t, ctx)
	plan := testPlan()

	reporter := progress.NewReporter(progress.Options{
		TotalTiles: plan.NumTiles(),
		Output:     io.Discard,
	})

	_, err := Fetch(ctx, testClient(server.URL), bucket, plan, Options{
		Workers:  1,
		StyleID:  "streets-v11",
		Token:    "bad",
		Progress: reporter,
	})

	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected PermanentError, got %v", err)
	}
	if got := reporter.FailedTiles(); got != 1 {
		t.Errorf("FailedTiles = %d, want 1", got)
	}
	if got := reporter.CompletedTiles(); got != 0 {
		t.Errorf("CompletedTiles = %d, want 0", got)
	}
}

func TestFetchNegativeRatioToleratesNoDegraded(t *testing.T) {
	ctx := context.Background()
	server := testutils.NewTileServer(t, 256)
	server.FailTile(10, 20, 5, 503, -1)
	bucket := openBucket(t, ctx)
	plan := testPlan()

	_, err := Fetch(ctx, testClient(server.URL), bucket, plan, Options{
		Workers:          2,
		StyleID:          "streets-v11",
		Token:            "tok",
		MaxDegradedRatio: -1,
	})

	var deg *DegradedError
	if !errors.As(err, &deg) {
		t.Fatalf("expected DegradedError, got %v", err)
	}
	if deg.Failed != 1 || deg.Total != 4 {
		t.Errorf("DegradedError = %+v, want 1/4", deg)
	}

	// A clean run still passes under a negative ratio.
	healthy := testutils.NewTileServer(t, 256)
	set, err := Fetch(ctx, testClient(healthy.URL), bucket, plan, Options{
		Workers:          2,
		StyleID:          "streets-v11",
		Token:            "tok",
		MaxDegradedRatio: -1,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(set.Degraded) != 0 {
		t.Errorf("expected no degraded tiles, got %v", set.Degraded)
	}
}

func TestTileKey(t *testing.T) {
	key := TileKey(mercator.Tile{X: 653, Y: 1582, Zoom: 12})
	if key != "653_1582_12.jpg" {
		t.Errorf("TileKey = %q", key)
	}
}

func delta(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
