// Package download resolves catalog entries into documents, reading local
// files directly and fetching http(s) locators through a caching transport.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/natefinch/atomic"

	"github.com/ericfisherdev/docanalyst/internal/domain/model"
	"github.com/ericfisherdev/docanalyst/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.DocumentSource = (*Fetcher)(nil)

// MaxDocumentSize caps a single fetched document.
const MaxDocumentSize = 64 << 20

// Sentinel errors.
var (
	ErrEmptyLocator  = errors.New("download: empty locator")
	ErrTooLarge      = errors.New("download: document exceeds size limit")
	ErrEmptyDocument = errors.New("download: document is empty")
)

// uncategorized is the folder for entries without a category.
const uncategorized = "Uncategorized"

// Fetcher implements driven.DocumentSource.
type Fetcher struct {
	http *http.Client
}

// NewFetcher creates a Fetcher whose HTTP requests go through an in-memory
// ETag/Last-Modified cache, so re-downloading an unchanged report is a
// conditional request.
func NewFetcher() *Fetcher {
	client := httpcache.NewMemoryCacheTransport().Client()
	client.Timeout = 2 * time.Minute
	return &Fetcher{http: client}
}

// NewFetcherWithHTTPClient creates a Fetcher with a custom http.Client.
func NewFetcherWithHTTPClient(client *http.Client) *Fetcher {
	return &Fetcher{http: client}
}

// Fetch loads entry. Remote documents are also saved under
// destDir/<category>/<name> when destDir is non-empty; local files are read
// in place.
func (f *Fetcher) Fetch(ctx context.Context, entry model.CatalogEntry, destDir string) (model.Document, error) {
	locator := strings.TrimSpace(entry.Locator)
	if locator == "" {
		return model.Document{}, ErrEmptyLocator
	}

	u, err := url.Parse(locator)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return f.fetchRemote(ctx, entry, u, destDir)
	}
	return readLocal(entry, locator)
}

func readLocal(entry model.CatalogEntry, p string) (model.Document, error) {
	info, err := os.Stat(p)
	if err != nil {
		return model.Document{}, fmt.Errorf("stat %s: %w", p, err)
	}
	if info.Size() > MaxDocumentSize {
		return model.Document{}, fmt.Errorf("%s: %w", p, ErrTooLarge)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return model.Document{}, fmt.Errorf("read %s: %w", p, err)
	}
	if len(data) == 0 {
		return model.Document{}, fmt.Errorf("%s: %w", p, ErrEmptyDocument)
	}

	name := entry.Name
	if name == "" {
		name = filepath.Base(p)
	}
	return model.Document{Name: safeName(name), Data: data}, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, entry model.CatalogEntry, u *url.URL, destDir string) (model.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.Document{}, fmt.Errorf("creating request for %s: %w", u, err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return model.Document{}, fmt.Errorf("GET %s: %w: %w", u, driven.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return model.Document{}, fmt.Errorf("GET %s: HTTP %d: %w", u, resp.StatusCode, driven.ErrTransient)
		}
		return model.Document{}, fmt.Errorf("GET %s: HTTP %d", u, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentSize+1))
	if err != nil {
		return model.Document{}, fmt.Errorf("reading %s: %w", u, err)
	}
	if len(data) > MaxDocumentSize {
		return model.Document{}, fmt.Errorf("%s: %w", u, ErrTooLarge)
	}
	if len(data) == 0 {
		return model.Document{}, fmt.Errorf("%s: %w", u, ErrEmptyDocument)
	}

	doc := model.Document{Name: remoteName(entry, u), Data: data}

	if destDir != "" {
		if err := save(destDir, entry.Category, doc); err != nil {
			return model.Document{}, err
		}
	}
	return doc, nil
}

// save writes doc to destDir/<category>/<name>.
func save(destDir, category string, doc model.Document) error {
	folder := filepath.Join(destDir, safeName(category))
	if category == "" {
		folder = filepath.Join(destDir, uncategorized)
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("create download dir %s: %w", folder, err)
	}

	target := filepath.Join(folder, doc.Name)
	if err := atomic.WriteFile(target, bytes.NewReader(doc.Data)); err != nil {
		return fmt.Errorf("save %s: %w", target, err)
	}
	return nil
}

// remoteName prefers the catalog name, then the last URL path segment with
// "+" read as a space.
func remoteName(entry model.CatalogEntry, u *url.URL) string {
	if entry.Name != "" {
		return safeName(entry.Name)
	}
	base := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	base = strings.ReplaceAll(base, "+", " ")
	if base == "/" || base == "." || base == "" {
		base = "document.pdf"
	}
	return safeName(base)
}

// safeName reduces s to a single path element.
func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
