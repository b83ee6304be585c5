// Package fetcher orchestrates parallel tile downloads.
//
// This package coordinates between the mapbox client and the output
// bucket: a bounded worker pool fetches every tile of a plan, decodes
// it, and persists the raw bytes under a deterministic name. It is the
// only fetch-phase component with side effects.
//
// # Usage
//
//	set, err := fetcher.Fetch(ctx, client, bucket, plan, fetcher.Options{
//	    Workers: 8,
//	    StyleID: "streets-v11",
//	    Token:   token,
//	})
//
// # Failure isolation
//
// A tile whose retries are exhausted degrades: its cell stays nil, the
// failure is recorded in TileSet.Degraded, and the run continues. A
// permanent failure (rejected token, unknown style) cancels all
// outstanding fetches and fails the run with a [PermanentError], since
// every remaining tile would fail identically.
//
// # Barrier
//
// Fetch returns only once every tile has either succeeded, exhausted
// its retries, or been cancelled; assembly never starts early.
package fetcher
