package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/listforge/listforge/pkg/log"
	"github.com/listforge/listforge/pkg/metrics"
	"github.com/listforge/listforge/pkg/store"
	"github.com/listforge/listforge/pkg/types"
)

// MaxSourceSizeBytes is the cap on a single source body (100 MiB). A body of
// exactly this size is accepted; one byte more is rejected.
const MaxSourceSizeBytes = 100 * 1024 * 1024

const userAgent = "Listforge-Worker/1.0 (+https://listforge.dev)"

// Cache is the slice of the cache repository the downloader consumes
type Cache interface {
	GetContent(ctx context.Context, urlHash string) ([]byte, error)
	GetDomainCount(ctx context.Context, urlHash string) (*int64, error)
	Store(ctx context.Context, urlHash, url string, content []byte, etag, lastModified *string, domainCount int64) error
	HasValidCache(ctx context.Context, urlHash string) (bool, error)
}

// Result is the outcome of fetching one source. Fetch problems are carried
// in Error, never returned; a batch always yields one Result per source.
type Result struct {
	Source              types.Source
	URLHash             string
	Content             []byte
	CacheHit            bool
	BytesDownloaded     int64
	DownloadTime        time.Duration
	Error               *string
	Warnings            []string
	PreviousDomainCount *int64
}

// Downloader fetches blocklist sources with bounded parallelism, consulting
// and populating the shared content cache.
type Downloader struct {
	client        *http.Client
	cache         Cache
	maxConcurrent int
}

// New creates a downloader. timeout is the per-request HTTP timeout,
// maxConcurrent caps in-flight downloads in a batch.
func New(cache Cache, timeout time.Duration, maxConcurrent int) *Downloader {
	return &Downloader{
		client: &http.Client{
			// Transparent response decompression stays on because we
			// never set Accept-Encoding ourselves.
			Timeout: timeout,
		},
		cache:         cache,
		maxConcurrent: maxConcurrent,
	}
}

// DownloadSource fetches a single source, serving from cache when possible
func (d *Downloader) DownloadSource(ctx context.Context, source types.Source) Result {
	urlHash := store.HashURL(source.URL)
	start := time.Now()
	logger := log.WithComponent("downloader")

	result := Result{
		Source:  source,
		URLHash: urlHash,
	}

	// Cache first
	content, err := d.cache.GetContent(ctx, urlHash)
	if err != nil {
		logger.Warn().Err(err).Str("source", source.Name).Msg("Cache read error")
	}
	if content != nil {
		prev, err := d.cache.GetDomainCount(ctx, urlHash)
		if err != nil {
			logger.Warn().Err(err).Str("source", source.Name).Msg("Cache stats read error")
		}
		logger.Debug().Str("source", source.Name).Int("bytes", len(content)).Msg("Cache hit")
		metrics.CacheHits.Inc()
		metrics.SourceDownloads.WithLabelValues("cache_hit").Inc()

		result.Content = content
		result.CacheHit = true
		result.DownloadTime = time.Since(start)
		result.PreviousDomainCount = prev
		return result
	}

	// Previous count survives the store below only if we grab it now
	prev, err := d.cache.GetDomainCount(ctx, urlHash)
	if err != nil {
		logger.Warn().Err(err).Str("source", source.Name).Msg("Cache stats read error")
	}
	result.PreviousDomainCount = prev

	body, warnings, err := d.fetchAndCache(ctx, source, urlHash)
	result.DownloadTime = time.Since(start)
	result.Warnings = warnings

	if err != nil {
		logger.Warn().Err(err).Str("source", source.Name).Msg("Download failed")
		metrics.SourceDownloads.WithLabelValues("error").Inc()
		msg := err.Error()
		result.Error = &msg
		return result
	}

	metrics.SourceDownloads.WithLabelValues("ok").Inc()
	metrics.BytesDownloaded.Add(float64(len(body)))
	result.Content = body
	result.BytesDownloaded = int64(len(body))
	return result
}

func (d *Downloader) fetchAndCache(ctx context.Context, source types.Source, urlHash string) ([]byte, []string, error) {
	var warnings []string

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request for %s: %w", source.URL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch %s: %w", source.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, fmt.Errorf("HTTP %s for %s", resp.Status, source.URL)
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if length, err := strconv.ParseInt(cl, 10, 64); err == nil && length > MaxSourceSizeBytes {
			return nil, nil, fmt.Errorf("source file too large: %d bytes (max %d bytes)", length, MaxSourceSizeBytes)
		}
	}

	var buf bytes.Buffer
	chunk := make([]byte, 64*1024)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if buf.Len() > MaxSourceSizeBytes {
				return nil, nil, fmt.Errorf("source file exceeds size limit during download (max %d bytes)", MaxSourceSizeBytes)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("error reading response from %s: %w", source.URL, err)
		}
	}

	content := buf.Bytes()
	if len(content) == 0 {
		warnings = append(warnings, "Downloaded empty file")
	}

	var etag, lastModified *string
	if v := resp.Header.Get("Etag"); v != "" {
		etag = &v
	}
	if v := resp.Header.Get("Last-Modified"); v != "" {
		lastModified = &v
	}

	// Rough count, replaced by the real one after extraction
	domainCount := int64(bytes.Count(content, []byte{'\n'}))

	if err := d.cache.Store(ctx, urlHash, source.URL, content, etag, lastModified, domainCount); err != nil {
		dlLogger := log.WithComponent("downloader")
		dlLogger.Warn().Err(err).
			Str("source", source.Name).Msg("Cache write error")
	}

	return content, warnings, nil
}

// DownloadSources fetches a batch with at most maxConcurrent in flight.
// Results are positioned by input index regardless of completion order. The
// callback fires once per completed source and may run concurrently.
func (d *Downloader) DownloadSources(ctx context.Context, sources []types.Source, progress func(idx int, sp types.SourceProgress)) []Result {
	results := make([]Result, len(sources))
	sem := semaphore.NewWeighted(int64(d.maxConcurrent))

	var g errgroup.Group
	for idx, source := range sources {
		idx, source := idx, source
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				msg := err.Error()
				results[idx] = Result{Source: source, URLHash: store.HashURL(source.URL), Error: &msg}
				return nil
			}
			defer sem.Release(1)

			started := types.Timestamp(time.Now())
			result := d.DownloadSource(ctx, source)
			results[idx] = result

			if progress != nil {
				completed := types.Timestamp(time.Now())
				status := types.SourceCompleted
				if result.Error != nil {
					status = types.SourceFailed
				}
				cacheHit := result.CacheHit
				downloadMS := result.DownloadTime.Milliseconds()
				progress(idx, types.SourceProgress{
					ID:              result.URLHash,
					Name:            source.Name,
					URL:             source.URL,
					Status:          status,
					CacheHit:        &cacheHit,
					BytesDownloaded: result.BytesDownloaded,
					DownloadTimeMS:  &downloadMS,
					Error:           result.Error,
					Warnings:        result.Warnings,
					StartedAt:       &started,
					CompletedAt:     &completed,
				})
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // per-source errors live in results

	return results
}

// CheckAllCached reports whether every source has a valid cache entry.
// Short-circuits on the first miss; a cache error counts as a miss.
func (d *Downloader) CheckAllCached(ctx context.Context, sources []types.Source) bool {
	logger := log.WithComponent("downloader")
	for _, source := range sources {
		ok, err := d.cache.HasValidCache(ctx, store.HashURL(source.URL))
		if err != nil {
			logger.Warn().Err(err).Str("source", source.Name).Msg("Cache check error")
			return false
		}
		if !ok {
			logger.Debug().Str("source", source.Name).Msg("Source not cached or cache expired")
			return false
		}
	}
	return true
}
