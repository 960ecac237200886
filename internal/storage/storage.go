package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// ErrUnsafePath is returned when a relative path would resolve outside the
// output root.
var ErrUnsafePath = errors.New("storage: path escapes output root")

// Sink is where downloaded files are written.
type Sink interface {
	// Create opens rel for writing, truncating any existing content.
	// Parent directories are created as needed.
	Create(ctx context.Context, rel string) (io.WriteCloser, error)

	// Location returns the absolute path or URL rel is written to.
	Location(rel string) string

	// Close releases resources held by the sink.
	Close() error
}

// Open returns a bucket sink if output is a URL with a scheme
// (mem://, file://, s3://, gs://) and a local directory sink otherwise.
func Open(ctx context.Context, output string) (Sink, error) {
	if isURL(output) {
		return NewBucket(ctx, output)
	}
	return NewLocal(output)
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	// A single-letter scheme is a Windows drive letter.
	return len(u.Scheme) > 1 && strings.Contains(s, "://")
}

// CleanRel returns the cleaned, root-relative form of a manifest path:
// duplicate separators and "." elements are dropped, so every spelling of a
// path maps to the same key. Paths that escape the root are rejected.
func CleanRel(rel string) (string, error) {
	trimmed := strings.TrimPrefix(rel, "/")
	cleaned := path.Clean("/" + trimmed)
	if cleaned == "/" || strings.Contains("/"+trimmed+"/", "/../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	return cleaned[1:], nil
}

// Local writes files under a root directory on the local filesystem.
type Local struct {
	root string
}

// NewLocal returns a sink rooted at dir. The directory need not exist.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute output root.
func (l *Local) Root() string { return l.root }

// Location returns the output path of rel.
func (l *Local) Location(rel string) string {
	return filepath.Join(l.root, filepath.FromSlash(strings.TrimPrefix(rel, "/")))
}

// Create creates parent directories (idempotently) and truncates the file.
func (l *Local) Create(_ context.Context, rel string) (io.WriteCloser, error) {
	if _, err := CleanRel(rel); err != nil {
		return nil, err
	}
	dest := l.Location(rel)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	return f, nil
}

// CheckWritable creates the root if needed and verifies a file can be
// written to it.
func (l *Local) CheckWritable() error {
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.CreateTemp(l.root, ".cdnmirror-*")
	if err != nil {
		return fmt.Errorf("output directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Close is a no-op for local sinks.
func (l *Local) Close() error { return nil }

// Bucket writes files as objects in a gocloud bucket, keyed by relative
// path.
type Bucket struct {
	url    string
	bucket *blob.Bucket
}

// NewBucket opens the bucket at bucketURL.
func NewBucket(ctx context.Context, bucketURL string) (*Bucket, error) {
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	return &Bucket{url: bucketURL, bucket: b}, nil
}

// WrapBucket returns a sink writing into an already opened bucket. Closing
// the sink closes b.
func WrapBucket(b *blob.Bucket, name string) *Bucket {
	return &Bucket{url: name, bucket: b}
}

// Location returns a descriptive location of rel.
func (b *Bucket) Location(rel string) string {
	return strings.TrimSuffix(b.url, "/") + "/" + strings.TrimPrefix(rel, "/")
}

// Create opens an object writer. The object becomes visible on Close.
// The returned writer implements Aborter.
func (b *Bucket) Create(ctx context.Context, rel string) (io.WriteCloser, error) {
	key, err := CleanRel(rel)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	w, err := b.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create object: %w", err)
	}
	return &objectWriter{Writer: w, cancel: cancel}, nil
}

// Aborter is implemented by writers that can discard what was written
// instead of committing it.
type Aborter interface {
	Abort() error
}

type objectWriter struct {
	*blob.Writer
	cancel context.CancelFunc
}

func (w *objectWriter) Close() error {
	defer w.cancel()
	return w.Writer.Close()
}

// Abort cancels the upload; any previous object is left in place.
func (w *objectWriter) Abort() error {
	w.cancel()
	w.Writer.Close()
	return nil
}

// Bucket returns the underlying bucket.
func (b *Bucket) Bucket() *blob.Bucket { return b.bucket }

// Close closes the bucket.
func (b *Bucket) Close() error { return b.bucket.Close() }
