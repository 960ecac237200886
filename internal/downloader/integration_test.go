//go:build integration

package downloader_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/cdnmirror/internal/downloader"
	"github.com/ligustah/cdnmirror/internal/manifest"
	"github.com/ligustah/cdnmirror/internal/progress"
	"github.com/ligustah/cdnmirror/internal/storage"
	"github.com/ligustah/cdnmirror/internal/testutils"
)

func TestIntegrationMirrorToMinio(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var files []testutils.TestFile
	for i, size := range []int64{0, 1024, 1024 * 1024, 10 * 1024 * 1024, 32 * 1024 * 1024} {
		files = append(files, testutils.TestFile{
			Dest: fmt.Sprintf("/assets/%d/file-%d.bin", i%2, size),
			Data: testutils.GenerateTestData(t, size),
		})
	}
	cdn := testutils.StartCDN(t, files, testutils.CDNOptions{Version: "1.0.0"})

	minio := testutils.StartMinioContainer(t, ctx, "mirror")
	defer minio.Close(ctx)

	resolved, err := manifest.NewResolver(nil).Resolve(ctx, cdn.IndexURL())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	sink, err := storage.NewBucket(ctx, minio.BucketURL)
	if err != nil {
		t.Fatalf("NewBucket: %v", err)
	}
	defer sink.Close()

	reporter := progress.NewReporter(progress.Options{
		TotalSize:  resolved.TotalSize(),
		TotalFiles: len(resolved.Resources),
		Output:     io.Discard,
	})
	reporter.Start()

	start := time.Now()
	results := downloader.Run(ctx, downloader.Plan(downloader.Descriptors(resolved.Resources), resolved.BaseURL), sink, downloader.Options{
		Concurrency: 3,
		Progress:    reporter,
	})
	reporter.Stop()
	t.Logf("mirrored %d files in %v", len(results), time.Since(start))

	if s := downloader.Summarize(results); !s.OK() {
		t.Fatalf("failures: %+v", s.Failures)
	}

	bucket, err := minio.OpenBucket(ctx)
	if err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}
	defer bucket.Close()

	for _, f := range files {
		key, _ := storage.CleanRel(f.Dest)
		got, err := bucket.ReadAll(ctx, key)
		if err != nil {
			t.Fatalf("read %s: %v", key, err)
		}
		if !bytes.Equal(got, f.Data) {
			t.Errorf("%s: content mismatch (got %d bytes, want %d)", key, len(got), len(f.Data))
		}
	}
}
