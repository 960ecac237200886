// Package testutils provides shared test infrastructure: a fake CDN serving
// an index, a manifest and resource files, plus a Minio container for
// integration tests.
package testutils

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"sync"
	"testing"
)

// Paths served by a CDN fixture.
const (
	IndexPath    = "/index.json"
	ManifestPath = "res.json"
	BasePath     = "base"
)

// TestFile defines a resource served by the CDN fixture. Dest is the
// manifest path, with its leading "/".
type TestFile struct {
	Dest string
	Data []byte
}

// GenerateTestData generates test data of the given size.
// For files <= 10MB, uses deterministic pattern. For larger files, uses random data.
func GenerateTestData(t *testing.T, size int64) []byte {
	t.Helper()
	data := make([]byte, size)
	if size <= 10*1024*1024 {
		for i := range data {
			data[i] = byte(i % 256)
		}
	} else {
		if _, err := rand.Read(data); err != nil {
			t.Fatalf("generate random data: %v", err)
		}
	}
	return data
}

// CDNOptions configures a CDN fixture.
type CDNOptions struct {
	// CDNSuffix is appended to the server URL in the index's cdnList, for
	// example "/" to reproduce a trailing slash.
	CDNSuffix string

	// Version is reported in the index.
	Version string

	// Missing lists manifest paths that appear in the manifest but are
	// answered with 404.
	Missing []string
}

// CDN is a fake CDN. It serves IndexPath, the manifest and every file under
// the resources base path, and records the raw path of every request.
type CDN struct {
	*httptest.Server

	files map[string][]byte

	mu       sync.Mutex
	requests []string
}

// StartCDN starts a CDN fixture serving files. The server is closed when the
// test ends.
func StartCDN(t *testing.T, files []TestFile, opts CDNOptions) *CDN {
	t.Helper()

	c := &CDN{files: make(map[string][]byte, len(files))}

	type resource struct {
		Dest string `json:"dest"`
		MD5  string `json:"md5"`
		Size int64  `json:"size"`
	}
	var resources []resource
	for _, f := range files {
		c.files[path.Clean("/"+BasePath+"/"+f.Dest)] = f.Data
		resources = append(resources, resource{Dest: f.Dest, Size: int64(len(f.Data))})
	}
	for _, m := range opts.Missing {
		resources = append(resources, resource{Dest: m, Size: 1})
	}

	manifestBody, err := json.Marshal(map[string]any{"resource": resources})
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}

	c.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.requests = append(c.requests, r.URL.Path)
		c.mu.Unlock()

		clean := path.Clean(r.URL.Path)
		switch {
		case r.URL.Path == IndexPath:
			json.NewEncoder(w).Encode(map[string]any{
				"default": map[string]any{
					"cdnList":           []map[string]string{{"url": c.URL + opts.CDNSuffix}},
					"resources":         ManifestPath,
					"resourcesBasePath": BasePath,
					"version":           opts.Version,
				},
			})
		case clean == "/"+ManifestPath:
			w.Header().Set("Content-Type", "application/json")
			w.Write(manifestBody)
		default:
			data, ok := c.files[clean]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Write(data)
		}
	}))
	t.Cleanup(c.Server.Close)
	return c
}

// IndexURL returns the URL of the index document.
func (c *CDN) IndexURL() string {
	return c.URL + IndexPath
}

// Requests returns the raw paths requested so far, in arrival order.
func (c *CDN) Requests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.requests...)
}

// Requested reports whether rawPath was requested exactly as given.
func (c *CDN) Requested(rawPath string) bool {
	for _, p := range c.Requests() {
		if p == rawPath {
			return true
		}
	}
	return false
}

// CompareReaderToData compares reader output with expected data in chunks.
func CompareReaderToData(t *testing.T, reader io.Reader, expected []byte) {
	t.Helper()

	buf := make([]byte, 1024*1024)
	offset := 0

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if offset+n > len(expected) {
				t.Fatalf("read more data than expected: offset=%d, n=%d, expected len=%d",
					offset, n, len(expected))
			}
			if !bytes.Equal(buf[:n], expected[offset:offset+n]) {
				t.Fatalf("data mismatch at offset %d", offset)
			}
			offset += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read error at offset %d: %v", offset, err)
		}
	}

	if offset != len(expected) {
		t.Fatalf("incomplete read: got %d bytes, want %d", offset, len(expected))
	}
}
