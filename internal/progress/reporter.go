package progress

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 1s
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information for one asset at a
// time.
type Reporter struct {
	opts Options

	mu         sync.Mutex
	name       string
	total      int64
	resumed    int64
	written    atomic.Int64
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
	stopCh     chan struct{}
	doneCh     chan struct{}
	active     bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = time.Second
	}

	return &Reporter{opts: opts}
}

// Begin starts reporting for an asset of total bytes of which resumed are
// already on disk. A previous asset still active is ended first.
func (r *Reporter) Begin(name string, total, resumed int64) {
	r.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.name = name
	r.total = total
	r.resumed = resumed
	r.written.Store(0)
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.lastBytes = 0
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.active = true

	if resumed > 0 {
		fmt.Fprintf(r.opts.Output, "[espadl] %s: resuming at %s of %s\n", name, formatBytes(resumed), formatBytes(total))
	}

	go r.updateLoop(r.stopCh, r.doneCh)
}

// Add records n freshly written bytes.
func (r *Reporter) Add(n int64) {
	r.written.Add(n)
}

// Restart discards the bytes counted so far, used when a transfer starts
// over from byte zero.
func (r *Reporter) Restart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumed = 0
	r.written.Store(0)
	r.lastBytes = 0
}

// Written returns the bytes counted since Begin.
func (r *Reporter) Written() int64 {
	return r.written.Load()
}

// End stops reporting for the current asset and prints a final line.
func (r *Reporter) End() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// Writer wraps w so that every byte written to it is counted.
func (r *Reporter) Writer(w io.Writer) io.Writer {
	return &countingWriter{w: w, r: r}
}

type countingWriter struct {
	w io.Writer
	r *Reporter
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.r.Add(int64(n))
	return n, err
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	written := r.written.Load()
	current := r.resumed + written

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(written-r.lastBytes) / elapsed

	r.lastUpdate = now
	r.lastBytes = written

	var percent float64
	eta := "calculating..."
	if r.total > 0 {
		percent = float64(current) / float64(r.total) * 100
		if speed > 0 {
			remaining := float64(r.total - current)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		}
	}

	fmt.Fprintf(r.opts.Output, "\r[espadl] %s: %.1f%% | %s / %s | Speed: %s/s | ETA: %s    ",
		r.name,
		percent,
		formatBytes(current),
		formatBytes(r.total),
		formatBytes(int64(speed)),
		eta,
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	r.mu.Lock()
	defer r.mu.Unlock()

	written := r.written.Load()
	if written == 0 {
		return
	}

	duration := time.Since(r.startTime)
	avgSpeed := float64(written) / math.Max(duration.Seconds(), 0.001)

	fmt.Fprintf(r.opts.Output, "\r[espadl] %s: %s / %s | Fetched %s in %s | Average speed: %s/s    \n",
		r.name,
		formatBytes(r.resumed+written),
		formatBytes(r.total),
		formatBytes(written),
		formatDuration(duration),
		formatBytes(int64(avgSpeed)),
	)
}

// formatBytes formats bytes as a human-readable string using IEC units.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}

	div, exp := int64(unit), 0
	for n := b / unit; n >= unit && exp < 3; n /= unit {
		div *= unit
		exp++
	}

	value := float64(b) / float64(div)
	suffix := []string{"KiB", "MiB", "GiB", "TiB"}[exp]
	if value == math.Trunc(value) && value >= 10 {
		return fmt.Sprintf("%.0f %s", value, suffix)
	}
	return fmt.Sprintf("%.1f %s", value, suffix)
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

var byteUnits = []struct {
	suffix     string
	multiplier int64
}{
	// Longest suffixes first so that "MiB" is not read as "B".
	{"TiB", 1 << 40},
	{"GiB", 1 << 30},
	{"MiB", 1 << 20},
	{"KiB", 1 << 10},
	{"TB", 1000 * 1000 * 1000 * 1000},
	{"GB", 1000 * 1000 * 1000},
	{"MB", 1000 * 1000},
	{"KB", 1000},
	{"B", 1},
}

// ParseBytes parses a human-readable byte string (e.g., "1MiB" or "500KB").
// IEC suffixes are powers of 1024, SI suffixes powers of 1000.
func ParseBytes(s string) (int64, error) {
	str := strings.TrimSpace(s)
	multiplier := int64(1)

	for _, u := range byteUnits {
		if strings.HasSuffix(str, u.suffix) {
			multiplier = u.multiplier
			str = strings.TrimSpace(strings.TrimSuffix(str, u.suffix))
			break
		}
	}

	value, err := strconv.ParseFloat(str, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid byte string: %q", s)
	}

	return int64(value * float64(multiplier)), nil
}
