package progress

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

// Options configures the progress reporter.
type Options struct {
	// TotalSize is the total size in bytes of the batch.
	TotalSize int64

	// TotalFiles is the number of files in the batch.
	TotalFiles int

	// Workers is the number of parallel transfers (for display).
	Workers int

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// Live redraws one bar per in-flight file. When nil it is enabled if
	// Output is a terminal.
	Live *bool

	// Width is the width of a bar in live mode.
	// Default: 40
	Width int
}

// Reporter aggregates progress from many concurrent transfers and renders
// it. All methods are safe for concurrent use.
type Reporter struct {
	opts Options
	live bool

	completedBytes atomic.Int64
	completedFiles atomic.Int32
	failedFiles    atomic.Int32
	inProgress     atomic.Int32

	mu         sync.Mutex
	indicators map[uint64]*Indicator
	nextID     uint64
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
	started    bool
	stopped    bool
	stopCh     chan struct{}
	doneCh     chan struct{}

	// outMu serializes writes to Output; drawn is the height of the live
	// block currently on screen.
	outMu sync.Mutex
	drawn int
}

// Indicator tracks one in-flight transfer. Each indicator is owned by the
// goroutine that created it.
type Indicator struct {
	r        *Reporter
	id       uint64
	label    string
	total    int64
	position atomic.Int64
	done     atomic.Bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	if opts.Width <= 0 {
		opts.Width = 40
	}

	live := isTerminal(opts.Output)
	if opts.Live != nil {
		live = *opts.Live
	}

	return &Reporter{
		opts:       opts,
		live:       live,
		indicators: make(map[uint64]*Indicator),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	r.printf("[cdnmirror] Files: %d | Total size: %s | Workers: %d\n",
		r.opts.TotalFiles,
		formatBytes(r.opts.TotalSize),
		r.opts.Workers,
	)

	go r.updateLoop()
}

// Stop stops the reporter and prints the final status. It blocks until the
// final status has been written.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// NewIndicator registers a transfer of total bytes under label. A nil
// Reporter returns a nil Indicator, whose methods do nothing.
func (r *Reporter) NewIndicator(total int64, label string) *Indicator {
	if r == nil {
		return nil
	}
	r.inProgress.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	ind := &Indicator{r: r, id: r.nextID, label: label, total: total}
	r.indicators[ind.id] = ind
	return ind
}

// SetPosition records the number of bytes transferred so far.
func (i *Indicator) SetPosition(n int64) {
	if i == nil {
		return
	}
	i.position.Store(n)
}

// Position returns the last recorded position.
func (i *Indicator) Position() int64 {
	if i == nil {
		return 0
	}
	return i.position.Load()
}

// Finish marks the transfer complete and removes it from the display.
func (i *Indicator) Finish() {
	if i == nil || !i.done.CompareAndSwap(false, true) {
		return
	}
	i.r.completedBytes.Add(i.position.Load())
	i.r.completedFiles.Add(1)
	i.r.release(i)
}

// Fail marks the transfer failed and removes it from the display.
func (i *Indicator) Fail() {
	if i == nil || !i.done.CompareAndSwap(false, true) {
		return
	}
	i.r.failedFiles.Add(1)
	i.r.release(i)
}

func (r *Reporter) release(i *Indicator) {
	r.inProgress.Add(-1)
	r.mu.Lock()
	delete(r.indicators, i.id)
	r.mu.Unlock()
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

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

// transferred returns completed bytes plus the positions of in-flight
// indicators, and a snapshot of the in-flight indicators ordered by id.
func (r *Reporter) transferred() (int64, []*Indicator) {
	r.mu.Lock()
	active := make([]*Indicator, 0, len(r.indicators))
	for _, ind := range r.indicators {
		active = append(active, ind)
	}
	r.mu.Unlock()

	sort.Slice(active, func(a, b int) bool { return active[a].id < active[b].id })

	total := r.completedBytes.Load()
	for _, ind := range active {
		total += ind.position.Load()
	}
	return total, active
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	transferred, active := r.transferred()

	r.mu.Lock()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(transferred-r.lastBytes) / elapsed
	r.lastUpdate = now
	r.lastBytes = transferred
	r.mu.Unlock()

	var percent float64
	eta := "calculating..."
	if r.opts.TotalSize > 0 {
		percent = float64(transferred) / float64(r.opts.TotalSize) * 100
		if speed > 0 {
			remaining := float64(r.opts.TotalSize - transferred)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		}
	}

	completed := int(r.completedFiles.Load())
	failed := int(r.failedFiles.Load())
	inProgress := int(r.inProgress.Load())
	pending := r.opts.TotalFiles - completed - failed - inProgress
	if pending < 0 {
		pending = 0
	}

	summary := fmt.Sprintf("[cdnmirror] Progress: %.1f%% | %s / %s | Speed: %s/s | ETA: %s",
		percent,
		formatBytes(transferred),
		formatBytes(r.opts.TotalSize),
		formatBytes(int64(speed)),
		eta,
	)
	files := fmt.Sprintf("[cdnmirror] Files: %d completed | %d in-progress | %d failed | %d pending",
		completed, inProgress, failed, pending)

	if !r.live {
		r.printf("%s\n%s\n", summary, files)
		return
	}

	var b strings.Builder
	for _, ind := range active {
		b.WriteString(r.renderBar(ind))
		b.WriteByte('\n')
	}
	b.WriteString(summary)
	b.WriteByte('\n')
	b.WriteString(files)
	b.WriteByte('\n')
	r.redraw(b.String(), len(active)+2)
}

// renderBar renders one indicator as "[=====>    ] 1.00 MiB / 4.00 MiB label".
func (r *Reporter) renderBar(ind *Indicator) string {
	pos := ind.position.Load()
	width := r.opts.Width

	filled := width
	if ind.total > 0 {
		filled = int(float64(width) * float64(pos) / float64(ind.total))
	}
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := strings.Repeat("=", filled)
	if filled < width {
		bar += ">" + strings.Repeat(" ", width-filled-1)
	}

	return fmt.Sprintf("[%s] %s / %s %s", bar, formatBytes(pos), formatBytes(ind.total), ind.label)
}

// redraw replaces the previously drawn block with text of n lines.
func (r *Reporter) redraw(text string, n int) {
	r.outMu.Lock()
	defer r.outMu.Unlock()

	io.WriteString(r.opts.Output, r.cursorUpLocked()+"\033[J"+text)
	r.drawn = n
}

// cursorUpLocked returns the escape sequence moving the cursor to the top of
// the live block. r.outMu must be held.
func (r *Reporter) cursorUpLocked() string {
	if r.drawn == 0 {
		return ""
	}
	return fmt.Sprintf("\033[%dA", r.drawn)
}

// Writer returns a writer for log output that shares the reporter's output.
// In live mode each write first clears the bars, which are drawn again on
// the next update, so log lines never land inside the block.
func (r *Reporter) Writer() io.Writer {
	return logWriter{r}
}

type logWriter struct {
	r *Reporter
}

func (w logWriter) Write(p []byte) (int, error) {
	r := w.r
	r.outMu.Lock()
	defer r.outMu.Unlock()

	if r.live && r.drawn > 0 {
		io.WriteString(r.opts.Output, r.cursorUpLocked()+"\033[J")
		r.drawn = 0
	}
	return r.opts.Output.Write(p)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	transferred, _ := r.transferred()
	duration := time.Since(r.startTime)
	avgSpeed := float64(transferred) / duration.Seconds()

	if r.live {
		r.redraw("", 0)
	}

	r.printf("[cdnmirror] Transferred: %s / %s | Files: %d completed | %d failed\n",
		formatBytes(transferred),
		formatBytes(r.opts.TotalSize),
		r.completedFiles.Load(),
		r.failedFiles.Load(),
	)
	r.printf("[cdnmirror] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		formatBytes(int64(avgSpeed)),
	)
}

// printf writes to the output. Write errors are ignored; a broken display
// must never fail a transfer.
func (r *Reporter) printf(format string, args ...any) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintf(r.opts.Output, format, args...)
}

// CompletedFiles returns the number of finished transfers.
func (r *Reporter) CompletedFiles() int { return int(r.completedFiles.Load()) }

// FailedFiles returns the number of failed transfers.
func (r *Reporter) FailedFiles() int { return int(r.failedFiles.Load()) }

// InProgress returns the number of registered, unfinished transfers.
func (r *Reporter) InProgress() int { return int(r.inProgress.Load()) }

// CompletedBytes returns the bytes of finished transfers.
func (r *Reporter) CompletedBytes() int64 { return r.completedBytes.Load() }
