package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	mirrorhttp "github.com/ligustah/cdnmirror/internal/http"
	"github.com/ligustah/cdnmirror/internal/manifest"
	"github.com/ligustah/cdnmirror/internal/progress"
	"github.com/ligustah/cdnmirror/internal/storage"
)

// Defaults applied to zero Options fields.
const (
	DefaultConcurrency = 15
	DefaultBufferSize  = 32 * 1024
)

// Steps a download can fail at.
const (
	OpAcquire = "acquire"
	OpRequest = "request"
	OpCreate  = "create"
	OpRead    = "read"
	OpWrite   = "write"
	OpClose   = "close"
)

// ErrDuplicateTarget is returned for a target whose output path was
// already claimed by an earlier target in the same batch.
var ErrDuplicateTarget = errors.New("downloader: duplicate output path")

// Getter issues streaming GET requests.
type Getter interface {
	Get(ctx context.Context, url string) (*mirrorhttp.Response, error)
}

// Options configures the downloader.
type Options struct {
	// Concurrency is the maximum number of transfers in flight.
	// Default: 15
	Concurrency int

	// BufferSize is the size of the chunks a response is streamed in.
	// Default: 32KiB
	BufferSize int

	// Client issues the requests.
	// Default: an internal/http client with default options.
	Client Getter

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Logger is an optional logger.
	Logger *zap.Logger
}

// Descriptor is one manifest entry to download.
type Descriptor struct {
	// Path is the slash-separated manifest path, usually with a leading "/".
	Path string

	// Size is the expected size in bytes.
	Size int64
}

// Target is a descriptor resolved to a source URL.
type Target struct {
	URL  string
	Path string
	Size int64
}

// Result is the outcome of one target.
type Result struct {
	Target   Target
	Location string
	Bytes    int64
	Duration time.Duration
	Err      error
}

// DownloadError records the step a download failed at.
type DownloadError struct {
	URL  string
	Path string
	Op   string
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Descriptors converts manifest resources to descriptors.
func Descriptors(resources []manifest.Resource) []Descriptor {
	descs := make([]Descriptor, len(resources))
	for i, r := range resources {
		descs[i] = Descriptor{Path: r.Dest, Size: r.Size}
	}
	return descs
}

// Plan resolves descriptors against baseURL.
func Plan(descs []Descriptor, baseURL string) []Target {
	targets := make([]Target, len(descs))
	for i, d := range descs {
		targets[i] = Target{
			URL:  manifest.Join(baseURL, d.Path),
			Path: d.Path,
			Size: d.Size,
		}
	}
	return targets
}

// Run downloads every target into sink with at most opts.Concurrency
// transfers in flight. It returns one result per target, in input order,
// after all transfers have finished. A failed target never affects the
// others.
func Run(ctx context.Context, targets []Target, sink storage.Sink, opts Options) []Result {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Client == nil {
		opts.Client = mirrorhttp.NewClient(mirrorhttp.DefaultOptions())
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	d := &downloader{
		sink: sink,
		opts: opts,
		sem:  semaphore.NewWeighted(int64(opts.Concurrency)),
	}

	results := make([]Result, len(targets))
	claimed := make(map[string]string, len(targets))
	var wg sync.WaitGroup

	for i, t := range targets {
		results[i] = Result{Target: t, Location: sink.Location(t.Path)}

		key, err := storage.CleanRel(t.Path)
		if err != nil {
			results[i].Err = &DownloadError{URL: t.URL, Path: t.Path, Op: OpCreate, Err: err}
			continue
		}
		if first, ok := claimed[key]; ok {
			results[i].Err = &DownloadError{
				URL:  t.URL,
				Path: t.Path,
				Op:   OpCreate,
				Err:  fmt.Errorf("%w: already written by %s", ErrDuplicateTarget, first),
			}
			continue
		}
		claimed[key] = t.Path

		wg.Add(1)
		go func(r *Result) {
			defer wg.Done()
			start := time.Now()
			r.Bytes, r.Err = d.download(ctx, r.Target)
			r.Duration = time.Since(start)
		}(&results[i])
	}

	wg.Wait()
	return results
}

type downloader struct {
	sink storage.Sink
	opts Options
	sem  *semaphore.Weighted
}

// download transfers one target. The slot is held from before the request
// is issued until the body and the destination are closed.
func (d *downloader) download(ctx context.Context, t Target) (int64, error) {
	fail := func(op string, err error) error {
		return &DownloadError{URL: t.URL, Path: t.Path, Op: op, Err: err}
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return 0, fail(OpAcquire, err)
	}
	defer d.sem.Release(1)

	log := d.opts.Logger.With(zap.String("path", t.Path))
	ind := d.opts.Progress.NewIndicator(t.Size, t.Path)

	n, err := d.transfer(ctx, t, ind, fail)
	if err != nil {
		ind.Fail()
		log.Warn("download failed", zap.String("url", t.URL), zap.Int64("bytes", n), zap.Error(err))
		return n, err
	}

	ind.Finish()
	if n != t.Size {
		log.Warn("size mismatch", zap.Int64("expected", t.Size), zap.Int64("actual", n))
	}
	log.Debug("downloaded", zap.Int64("bytes", n))
	return n, nil
}

func (d *downloader) transfer(ctx context.Context, t Target, ind *progress.Indicator, fail func(string, error) error) (int64, error) {
	resp, err := d.opts.Client.Get(ctx, t.URL)
	if err != nil {
		return 0, fail(OpRequest, err)
	}
	defer resp.Body.Close()

	w, err := d.sink.Create(ctx, t.Path)
	if err != nil {
		return 0, fail(OpCreate, err)
	}

	n, op, err := copyChunks(w, resp.Body, d.opts.BufferSize, ind)
	if err != nil {
		if a, ok := w.(storage.Aborter); ok {
			a.Abort()
		} else {
			w.Close()
		}
		return n, fail(op, err)
	}

	if err := w.Close(); err != nil {
		return n, fail(OpClose, err)
	}
	return n, nil
}

// copyChunks streams r into w one buffer at a time, reporting the running
// total after every chunk. It returns the step that failed, if any.
func copyChunks(w io.Writer, r io.Reader, size int, ind *progress.Indicator) (int64, string, error) {
	buf := make([]byte, size)
	var written int64

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return written, OpWrite, err
			}
			written += int64(n)
			ind.SetPosition(written)
		}
		if readErr == io.EOF {
			return written, "", nil
		}
		if readErr != nil {
			return written, OpRead, readErr
		}
	}
}

// Summary aggregates the results of a batch.
type Summary struct {
	Files     int
	Succeeded int
	Failed    int
	Bytes     int64
	Failures  []Result
}

// Summarize aggregates results.
func Summarize(results []Result) Summary {
	s := Summary{Files: len(results)}
	for _, r := range results {
		s.Bytes += r.Bytes
		if r.Err != nil {
			s.Failed++
			s.Failures = append(s.Failures, r)
			continue
		}
		s.Succeeded++
	}
	return s
}

// OK reports whether every download succeeded.
func (s Summary) OK() bool { return s.Failed == 0 }
