package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"

	mirrorhttp "github.com/ligustah/cdnmirror/internal/http"
)

// ErrNoCDN is returned when the index lists no CDN entries.
var ErrNoCDN = errors.New("manifest: index has no CDN entries")

// Index is the top-level index document.
type Index struct {
	Default DefaultIndex `json:"default"`
}

// DefaultIndex names the CDNs and the location of the resource manifest.
type DefaultIndex struct {
	CDNList           []CDNEntry `json:"cdnList"`
	Resources         string     `json:"resources"`
	ResourcesBasePath string     `json:"resourcesBasePath"`
	Version           string     `json:"version"`
}

// CDNEntry is one CDN mirror.
type CDNEntry struct {
	URL string `json:"url"`
}

// Resource is one file in the resource manifest. MD5 and SampleHash are
// carried but never checked.
type Resource struct {
	Dest       string `json:"dest"`
	MD5        string `json:"md5"`
	SampleHash string `json:"sampleHash"`
	Size       int64  `json:"size"`
}

// Manifest is the resource manifest document.
type Manifest struct {
	Resource []Resource `json:"resource"`
}

// Resolved is the result of resolving an index.
type Resolved struct {
	// Resources lists every file of the version.
	Resources []Resource

	// BaseURL is prefixed to each resource path with a "/" separator.
	BaseURL string

	// ManifestURL is where Resources were fetched from.
	ManifestURL string

	// Version is the version label of the index.
	Version string
}

// TotalSize returns the sum of all resource sizes.
func (r *Resolved) TotalSize() int64 {
	var total int64
	for _, res := range r.Resources {
		total += res.Size
	}
	return total
}

// Resolver fetches an index and the manifest it points to.
type Resolver struct {
	client *mirrorhttp.Client
}

// NewResolver returns a Resolver using client, or a client with default
// options if client is nil.
func NewResolver(client *mirrorhttp.Client) *Resolver {
	if client == nil {
		client = mirrorhttp.NewClient(mirrorhttp.DefaultOptions())
	}
	return &Resolver{client: client}
}

// Resolve fetches the index at indexURL, then the resource manifest it
// names. Only the first CDN entry is used.
func (r *Resolver) Resolve(ctx context.Context, indexURL string) (*Resolved, error) {
	var index Index
	if err := r.fetchJSON(ctx, indexURL, &index); err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	if len(index.Default.CDNList) == 0 {
		return nil, ErrNoCDN
	}

	cdn := index.Default.CDNList[0].URL
	manifestURL := Join(cdn, index.Default.Resources)

	var m Manifest
	if err := r.fetchJSON(ctx, manifestURL, &m); err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}

	return &Resolved{
		Resources:   m.Resource,
		BaseURL:     Join(cdn, index.Default.ResourcesBasePath),
		ManifestURL: manifestURL,
		Version:     index.Default.Version,
	}, nil
}

// Join concatenates base and rel with a literal "/". Duplicate or missing
// separators are preserved as is.
func Join(base, rel string) string {
	return base + "/" + rel
}

func (r *Resolver) fetchJSON(ctx context.Context, url string, v any) error {
	resp, err := r.client.Get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if resp.ContentEncoding == "zstd" || strings.HasSuffix(url, ".zst") {
		dec, err := zstd.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("create zstd reader: %w", err)
		}
		defer dec.Close()
		body = dec
	}

	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
