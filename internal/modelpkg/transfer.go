package modelpkg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Cache is a content cache addressed by URL.
type Cache interface {
	Keys(ctx context.Context) ([]string, error)
	Get(ctx context.Context, url string) ([]byte, error)
	Put(ctx context.Context, url string, data []byte) error
}

// ProgressFunc receives overall progress as a percentage in [0,100].
type ProgressFunc func(percent float64)

func (f ProgressFunc) report(p float64) {
	if f != nil {
		f(p)
	}
}

// DefaultTrustedPrefixes are the model repositories imports accept.
var DefaultTrustedPrefixes = []string{
	"https://huggingface.co/",
	"https://raw.githubusercontent.com/mlc-ai/",
}

// AllowList restricts which URLs may enter the cache. A nil AllowList allows
// everything.
type AllowList struct {
	Prefixes []string
}

// DefaultAllowList trusts DefaultTrustedPrefixes.
func DefaultAllowList() *AllowList {
	return &AllowList{Prefixes: append([]string(nil), DefaultTrustedPrefixes...)}
}

// Allowed reports whether u may be imported.
func (a *AllowList) Allowed(u string) bool {
	if a == nil {
		return true
	}
	if u == "" {
		return false
	}
	for _, p := range a.Prefixes {
		if strings.HasPrefix(u, p) {
			return true
		}
	}
	return false
}

// UntrustedURLError reports an entry rejected by the allow-list.
type UntrustedURLError struct{ URL string }

func (e *UntrustedURLError) Error() string { return "untrusted model URL: " + e.URL }

// Export writes a package of every cached entry whose URL contains modelID.
// Reading entries covers 0–50% of progress, writing the package 50–100%.
// It returns the number of entries written.
func Export(ctx context.Context, cache Cache, modelID string, w io.Writer, progress ProgressFunc) (int, error) {
	if strings.TrimSpace(modelID) == "" {
		return 0, errors.New("modelpkg: model id is required")
	}
	keys, err := cache.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list cache: %w", err)
	}
	var matched []string
	for _, k := range keys {
		if strings.Contains(k, modelID) {
			matched = append(matched, k)
		}
	}
	sort.Strings(matched)
	progress.report(0)

	entries := make([]Entry, 0, len(matched))
	for i, k := range matched {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		data, err := cache.Get(ctx, k)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", k, err)
		}
		entries = append(entries, Entry{URL: k, Payload: data})
		progress.report(50 * float64(i+1) / float64(len(matched)))
	}
	progress.report(50)

	pw := &progressWriter{w: w, total: packedSize(entries), onWrite: func(frac float64) { progress.report(50 + 50*frac) }}
	if err := Encode(pw, entries); err != nil {
		return 0, err
	}
	progress.report(100)
	return len(entries), nil
}

func packedSize(entries []Entry) int64 {
	n := int64(8)
	for _, e := range entries {
		n += 12 + int64(len(e.URL)) + int64(len(e.Payload))
	}
	return n
}

type progressWriter struct {
	w       io.Writer
	total   int64
	written int64
	onWrite func(float64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.total > 0 {
		p.onWrite(float64(p.written) / float64(p.total))
	}
	return n, err
}

// ImportOptions tunes Import.
type ImportOptions struct {
	// Allow filters entry URLs; nil accepts all.
	Allow *AllowList
}

// ImportResult summarizes an import.
type ImportResult struct {
	Entries int
	Bytes   int64
	Skipped []string
}

// Import unpacks data and writes each entry to cache under its URL. Parsing
// covers 0–50% of progress, applying entries 50–100%. A bad package aborts
// before anything is written; after that entries are written independently
// and every failure is returned joined.
func Import(ctx context.Context, cache Cache, data []byte, opts ImportOptions, progress ProgressFunc) (ImportResult, error) {
	progress.report(0)
	entries, err := unpack(data, func(done, total int) {
		progress.report(50 * float64(done) / float64(total))
	})
	if err != nil {
		return ImportResult{}, err
	}
	progress.report(50)

	var res ImportResult
	var errs []error
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !opts.Allow.Allowed(e.URL) {
			res.Skipped = append(res.Skipped, e.URL)
			errs = append(errs, &UntrustedURLError{URL: e.URL})
		} else if err := cache.Put(ctx, e.URL, e.Payload); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", e.URL, err))
		} else {
			res.Entries++
			res.Bytes += int64(len(e.Payload))
		}
		progress.report(50 + 50*float64(i+1)/float64(len(entries)))
	}
	progress.report(100)
	return res, errors.Join(errs...)
}

// ShardBaseURL is where files of a locally copied model folder are cached.
func ShardBaseURL(modelID string) string {
	return "https://huggingface.co/mlc-ai/" + url.PathEscape(modelID) + "/resolve/main/"
}

// ImportDir caches every regular file under dir as
// ShardBaseURL(modelID)+<relative path>, reading up to four files at once.
// progress may be called from several goroutines.
func ImportDir(ctx context.Context, cache Cache, dir, modelID string, progress ProgressFunc) (int, error) {
	if strings.TrimSpace(modelID) == "" {
		return 0, errors.New("modelpkg: model id is required")
	}
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	base := ShardBaseURL(modelID)
	var done atomic.Int64
	total := float64(len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, f := range files {
		g.Go(func() error {
			rel, err := filepath.Rel(dir, f)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(f)
			if err != nil {
				return err
			}
			u := base + path.Clean(filepath.ToSlash(rel))
			if err := cache.Put(gctx, u, data); err != nil {
				return fmt.Errorf("write %s: %w", u, err)
			}
			progress.report(100 * float64(done.Add(1)) / total)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(done.Load()), err
	}
	return len(files), nil
}
