package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// TotalTiles is the total number of tiles to fetch.
	TotalTiles int

	// Workers is the number of parallel fetch workers.
	Workers int

	// Zoom is the selected zoom level (for display).
	Zoom int

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	mu             sync.Mutex
	completedBytes atomic.Int64
	completedTiles atomic.Int32
	failedTiles    atomic.Int32
	inProgress     atomic.Int32
	startTime      time.Time
	lastUpdate     time.Time
	lastBytes      int64
	stopCh         chan struct{}
	stopped        bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.startTime = time.Now()
	r.lastUpdate = r.startTime

	fmt.Fprintf(r.opts.Output, "[bigmap] Fetching %d tiles at zoom %d | Workers: %d\n",
		r.opts.TotalTiles, r.opts.Zoom, r.opts.Workers)

	go r.updateLoop()
}

// Stop stops the progress reporter.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
}

// TileStarted marks a tile as in progress.
func (r *Reporter) TileStarted() {
	r.inProgress.Add(1)
}

// TileCompleted marks a tile as fetched, recording its size in bytes.
func (r *Reporter) TileCompleted(size int64) {
	r.completedBytes.Add(size)
	r.completedTiles.Add(1)
	r.inProgress.Add(-1)
}

// TileFailed marks a tile as degraded (retries exhausted).
func (r *Reporter) TileFailed() {
	r.failedTiles.Add(1)
	r.inProgress.Add(-1)
}

// TileAborted removes a tile from the in-progress count without
// recording an outcome (run cancelled mid-flight).
func (r *Reporter) TileAborted() {
	r.inProgress.Add(-1)
}

// CompletedTiles returns the number of tiles fetched so far.
func (r *Reporter) CompletedTiles() int {
	return int(r.completedTiles.Load())
}

// FailedTiles returns the number of tiles that exhausted their retries.
func (r *Reporter) FailedTiles() int {
	return int(r.failedTiles.Load())
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	completed := int(r.completedTiles.Load())
	failed := int(r.failedTiles.Load())
	inProgress := int(r.inProgress.Load())
	bytes := r.completedBytes.Load()

	// Calculate speed
	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	bytesThisPeriod := bytes - r.lastBytes
	speed := float64(bytesThisPeriod) / elapsed

	r.lastUpdate = now
	r.lastBytes = bytes

	done := completed + failed
	var percent float64
	eta := "calculating..."
	if r.opts.TotalTiles > 0 {
		percent = float64(done) / float64(r.opts.TotalTiles) * 100
		if done > 0 {
			perTile := time.Since(r.startTime) / time.Duration(done)
			eta = formatDuration(perTile * time.Duration(r.opts.TotalTiles-done))
		}
	}

	pending := r.opts.TotalTiles - done - inProgress
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "\r[bigmap] Progress: %.1f%% | %d/%d tiles | %s | Speed: %s/s | ETA: %s    ",
		percent,
		done,
		r.opts.TotalTiles,
		formatBytes(bytes),
		formatBytes(int64(speed)),
		eta,
	)
	fmt.Fprintf(r.opts.Output, "\n[bigmap] Tiles: %d completed | %d degraded | %d in-progress | %d pending    \033[A",
		completed,
		failed,
		inProgress,
		pending,
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	completed := int(r.completedTiles.Load())
	failed := int(r.failedTiles.Load())
	bytes := r.completedBytes.Load()
	duration := time.Since(r.startTime)
	avgSpeed := float64(bytes) / duration.Seconds()

	fmt.Fprintf(r.opts.Output, "\r[bigmap] Fetched %d/%d tiles (%d degraded) | %s    \n",
		completed,
		r.opts.TotalTiles,
		failed,
		formatBytes(bytes),
	)
	fmt.Fprintf(r.opts.Output, "[bigmap] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		formatBytes(int64(avgSpeed)),
	)
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}
