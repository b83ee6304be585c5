// Command bigmap renders a geographic bounding box into one large map
// image by fetching the covering raster tiles and stitching them together.
//
// Every tile is kept next to the result:
//
//	outputDir/{x}_{y}_{zoom}.jpg
//	outputDir/result.jpg
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/urfave/cli/v2"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/mhamas/big-map/internal/config"
	"github.com/mhamas/big-map/internal/fetcher"
	"github.com/mhamas/big-map/internal/mapbox"
	"github.com/mhamas/big-map/internal/mosaic"
	"github.com/mhamas/big-map/internal/progress"
	"github.com/mhamas/big-map/pkg/mercator"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitInvalidArgs  = 2
	ExitPlanError    = 3
	ExitFetchError   = 4
	ExitStorageError = 5
)

// Flag names
const (
	LATMIN      = "lat-min-deg"
	LATMAX      = "lat-max-deg"
	LONMIN      = "lon-min-deg"
	LONMAX      = "lon-max-deg"
	WIDTH       = "width-px"
	OUTPUT      = "output-dir"
	STYLE       = "style-id"
	TOKEN       = "token"
	HIGHRES     = "high-resolution"
	WORKERS     = "workers"
	PROGRESS    = "progress"
	CONFIG      = "config"
	QUALITY     = "jpeg-quality"
	MAXDEGRADED = "max-degraded"
	RETRIES     = "retry-attempts"
	BACKOFF     = "retry-backoff"
	MAXBACKOFF  = "retry-max-backoff"
	APIURL      = "tile-api-url"
)

func envVars(name string) []string {
	return []string{"BIGMAP_" + strcase.ToScreamingSnake(name)}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitGeneralError)
	}
}

//nolint:funlen
func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "bigmap"
	app.Usage = "Stitch map tiles covering a bounding box into one large image"

	app.Flags = []cli.Flag{
		&cli.Float64Flag{
			Name:     LATMIN,
			Usage:    "Minimum latitude in degrees",
			Required: true,
			EnvVars:  envVars(LATMIN),
		},
		&cli.Float64Flag{
			Name:     LATMAX,
			Usage:    "Maximum latitude in degrees",
			Required: true,
			EnvVars:  envVars(LATMAX),
		},
		&cli.Float64Flag{
			Name:     LONMIN,
			Usage:    "Minimum longitude in degrees",
			Required: true,
			EnvVars:  envVars(LONMIN),
		},
		&cli.Float64Flag{
			Name:     LONMAX,
			Usage:    "Maximum longitude in degrees",
			Required: true,
			EnvVars:  envVars(LONMAX),
		},
		&cli.IntFlag{
			Name:     WIDTH,
			Usage:    "Width of the resulting image in pixels",
			Required: true,
			EnvVars:  envVars(WIDTH),
		},
		&cli.StringFlag{
			Name:     OUTPUT,
			Aliases:  []string{"o"},
			Usage:    "Directory (or bucket URL) where tiles and the result are stored",
			Required: true,
			EnvVars:  envVars(OUTPUT),
		},
		&cli.StringFlag{
			Name:    STYLE,
			Usage:   "Mapbox style id (https://docs.mapbox.com/api/maps/styles/)",
			EnvVars: envVars(STYLE),
		},
		&cli.StringFlag{
			Name:     TOKEN,
			Usage:    "Mapbox API token used to query the tiles",
			Required: true,
			EnvVars:  envVars(TOKEN),
		},
		&cli.BoolFlag{
			Name:    HIGHRES,
			Usage:   "Fetch 512px tiles instead of 256px",
			EnvVars: envVars(HIGHRES),
		},
		&cli.IntFlag{
			Name:    WORKERS,
			Usage:   "Number of parallel tile fetch workers",
			EnvVars: envVars(WORKERS),
		},
		&cli.BoolFlag{
			Name:    PROGRESS,
			Usage:   "Show progress output",
			EnvVars: envVars(PROGRESS),
		},
		&cli.StringFlag{
			Name:    CONFIG,
			Usage:   "Path to a YAML config file",
			EnvVars: envVars(CONFIG),
		},
		&cli.IntFlag{
			Name:    QUALITY,
			Usage:   "JPEG quality of the stitched result (1-100)",
			EnvVars: envVars(QUALITY),
		},
		&cli.Float64Flag{
			Name:    MAXDEGRADED,
			Usage:   "Fail when more than this proportion of tiles cannot be fetched",
			EnvVars: envVars(MAXDEGRADED),
		},
		&cli.IntFlag{
			Name:    RETRIES,
			Usage:   "Max retry attempts per tile",
			EnvVars: envVars(RETRIES),
		},
		&cli.DurationFlag{
			Name:    BACKOFF,
			Usage:   "Initial retry backoff",
			EnvVars: envVars(BACKOFF),
		},
		&cli.DurationFlag{
			Name:    MAXBACKOFF,
			Usage:   "Max retry backoff",
			EnvVars: envVars(MAXBACKOFF),
		},
		&cli.StringFlag{
			Name:    APIURL,
			Usage:   "Tile API endpoint",
			Value:   mapbox.DefaultBaseURL,
			Hidden:  true,
			EnvVars: envVars(APIURL),
		},
	}

	app.Action = run
	return app
}

func run(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String(CONFIG); path != "" {
		fileCfg, err := config.LoadFromFile(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error: %v", err), ExitInvalidArgs)
		}
		cfg = fileCfg
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), ExitInvalidArgs)
	}
	cfg = cfg.Merge(config.Config{
		Workers:          c.Int(WORKERS),
		StyleID:          c.String(STYLE),
		JPEGQuality:      c.Int(QUALITY),
		MaxDegradedRatio: c.Float64(MAXDEGRADED),
		Progress:         c.Bool(PROGRESS),
		Retry: config.RetryConfig{
			Attempts:   c.Int(RETRIES),
			Backoff:    c.Duration(BACKOFF),
			MaxBackoff: c.Duration(MAXBACKOFF),
		},
	})
	if err := cfg.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), ExitInvalidArgs)
	}

	req := config.Request{
		LatMin:         c.Float64(LATMIN),
		LatMax:         c.Float64(LATMAX),
		LonMin:         c.Float64(LONMIN),
		LonMax:         c.Float64(LONMAX),
		WidthPx:        c.Int(WIDTH),
		OutputDir:      c.String(OUTPUT),
		Token:          c.String(TOKEN),
		HighResolution: c.Bool(HIGHRES),
	}
	if err := req.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), ExitInvalidArgs)
	}

	plan, err := mercator.NewPlan(req.BoundingBox(), req.WidthPx, req.Resolution())
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), ExitPlanError)
	}

	fmt.Printf("[bigmap] Zoom %d | %dx%d tiles (%d total, %s) | Output %dx%d px\n",
		plan.Zoom, plan.Columns(), plan.Rows(), plan.NumTiles(),
		plan.Resolution, plan.Crop.Dx(), plan.Crop.Dy())

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[bigmap] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	bucket, err := openBucket(ctx, req.OutputDir)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: open output %s: %v", req.OutputDir, err), ExitStorageError)
	}
	defer bucket.Close()

	var reporter *progress.Reporter
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			TotalTiles: plan.NumTiles(),
			Workers:    cfg.Workers,
			Zoom:       plan.Zoom,
		})
		reporter.Start()
		defer reporter.Stop()
	}

	client := mapbox.NewClient(mapbox.Options{
		BaseURL:             c.String(APIURL),
		MaxIdleConnsPerHost: cfg.Workers * 2,
		Timeout:             30 * time.Second,
		RetryAttempts:       cfg.Retry.Attempts,
		RetryBackoff:        cfg.Retry.Backoff,
		RetryMaxBackoff:     cfg.Retry.MaxBackoff,
	})

	set, err := fetcher.Fetch(ctx, client, bucket, plan, fetcher.Options{
		Workers:          cfg.Workers,
		StyleID:          cfg.StyleID,
		Token:            req.Token,
		MaxDegradedRatio: cfg.MaxDegradedRatio,
		Progress:         reporter,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), ExitFetchError)
	}
	if reporter != nil {
		reporter.Stop()
	}

	img := mosaic.Assemble(set.Images(), plan.TileSize(), plan.Crop)
	if err := mosaic.WriteJPEG(ctx, bucket, mosaic.ResultKey, img, cfg.JPEGQuality); err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), ExitStorageError)
	}

	for _, d := range set.Degraded {
		fmt.Fprintf(os.Stderr, "[bigmap] Warning: tile %s degraded: %v\n", d.Tile, d.Err)
	}
	if n := len(set.Degraded); n > 0 {
		fmt.Printf("[bigmap] Done with %d of %d tiles degraded | %s\n", n, plan.NumTiles(), mosaic.ResultKey)
	} else {
		fmt.Printf("[bigmap] Success: %d tiles stitched into %s\n", plan.NumTiles(), mosaic.ResultKey)
	}
	return nil
}

// openBucket opens the output destination: a driver URL (s3://, gs://,
// file://) or a plain directory path, which is created if absent.
func openBucket(ctx context.Context, dest string) (*blob.Bucket, error) {
	if strings.Contains(dest, "://") {
		return blob.OpenBucket(ctx, dest)
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, err
	}
	// No .attrs sidecar files next to the tiles.
	return fileblob.OpenBucket(dest, &fileblob.Options{Metadata: fileblob.MetadataDontWrite})
}
