// Package progress provides progress reporting for tile downloads.
//
// This package outputs human-readable progress information to stdout,
// including tile counts, transfer speed, and ETA. It is an explicit
// collaborator passed into the fetch phase; the fetch workers report
// per-tile events and the reporter owns all terminal output.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalTiles: plan.NumTiles(),
//	    Workers:    8,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	// From fetch workers:
//	reporter.TileStarted()
//	reporter.TileCompleted(byteCount)
//	// or
//	reporter.TileFailed()
//
// # Output Format
//
//	[bigmap] Fetching 9 tiles at zoom 12 | Workers: 8
//	[bigmap] Progress: 55.6% | 5/9 tiles | 1.20 MB | Speed: 410.21 KB/s | ETA: 3s
package progress
