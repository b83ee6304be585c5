// Package mapbox provides an HTTP client for the Mapbox Static Tiles API.
//
// This package handles:
//   - Building per-tile requests from style id, zoom, x, y, tile size
//     and access token
//   - Retry with exponential backoff on transient failures (network
//     errors, 429 rate limits, 5xx responses)
//   - Immediate typed errors on permanent failures (bad token, unknown
//     style), so callers can abort instead of retrying hopelessly
//
// # Usage
//
//	client := mapbox.NewClient(mapbox.DefaultOptions())
//
//	raw, err := client.GetTile(ctx, mapbox.TileRequest{
//	    StyleID:  "streets-v11",
//	    Zoom:     12,
//	    X:        653,
//	    Y:        1582,
//	    TileSize: 512,
//	    Token:    token,
//	})
//
// Use [IsPermanent] to distinguish failures that would repeat for every
// tile from ones worth degrading a single tile over.
package mapbox
