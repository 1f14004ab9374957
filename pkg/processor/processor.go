// Package processor orchestrates one build job through the pipeline:
// config load, skip checks, download, extract, whitelist, generate, commit.
package processor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/listforge/listforge/pkg/config"
	"github.com/listforge/listforge/pkg/downloader"
	"github.com/listforge/listforge/pkg/extractor"
	"github.com/listforge/listforge/pkg/generator"
	"github.com/listforge/listforge/pkg/log"
	"github.com/listforge/listforge/pkg/metrics"
	"github.com/listforge/listforge/pkg/store"
	"github.com/listforge/listforge/pkg/types"
	"github.com/listforge/listforge/pkg/whitelist"
)

// SkipReason is the exact reason recorded on a self-match skip
const SkipReason = "No changes detected since last build. All sources are cached and configuration unchanged."

// Terminal failure reasons
const (
	failNoSources    = "No valid sources in config"
	failAllDownloads = "All source downloads failed"
	failNoDomains    = "No domains extracted"
)

// JobStore is the slice of the job repository the processor writes through
type JobStore interface {
	UpdateProgress(ctx context.Context, id primitive.ObjectID, progress *types.JobProgress) error
	Complete(ctx context.Context, id primitive.ObjectID, result *types.JobResult) error
	Fail(ctx context.Context, id primitive.ObjectID, errs []string) error
	Skip(ctx context.Context, id primitive.ObjectID, reason string) error
	LastCompletedResult(ctx context.Context, username string) (*types.JobResult, error)
}

// TenantStore reads tenant configuration and records build outcomes
type TenantStore interface {
	GetBlocklists(ctx context.Context, username string) (string, error)
	GetWhitelist(ctx context.Context, username string) (string, error)
	GetConfigHash(ctx context.Context, username string) (*string, error)
	UpdateAfterBuild(ctx context.Context, username string, lists []types.ListMetadata, totalDomains, totalOutputSize int64, configHash, configFingerprint string) error
	FindByFingerprint(ctx context.Context, fingerprint, excludeUsername string) (*types.MatchedTenant, error)
}

// Fetcher is the downloader surface the pipeline drives
type Fetcher interface {
	DownloadSources(ctx context.Context, sources []types.Source, progress func(idx int, sp types.SourceProgress)) []downloader.Result
	CheckAllCached(ctx context.Context, sources []types.Source) bool
}

// CacheStats writes post-extract domain counts back to the content cache
type CacheStats interface {
	UpdateDomainCount(ctx context.Context, urlHash string, domainCount int64) error
}

// Processor runs one job at a time through the pipeline. It owns no
// long-lived state; the worker constructs one per claimed job.
type Processor struct {
	cfg       *config.Config
	jobs      JobStore
	tenants   TenantStore
	fetcher   Fetcher
	cache     CacheStats
	extractor *extractor.Extractor
}

// New creates a processor
func New(cfg *config.Config, jobs JobStore, tenants TenantStore, fetcher Fetcher, cache CacheStats) *Processor {
	return &Processor{
		cfg:       cfg,
		jobs:      jobs,
		tenants:   tenants,
		fetcher:   fetcher,
		cache:     cache,
		extractor: extractor.New(),
	}
}

// progressWriter serializes progress mutations and pushes each one to the
// job document. Write failures are logged, never fatal.
type progressWriter struct {
	mu       sync.Mutex
	jobs     JobStore
	id       primitive.ObjectID
	progress types.JobProgress
	logger   zerolog.Logger
}

func (pw *progressWriter) update(ctx context.Context, mutate func(p *types.JobProgress)) {
	pw.mu.Lock()
	mutate(&pw.progress)
	snapshot := pw.progress
	pw.mu.Unlock()

	if err := pw.jobs.UpdateProgress(ctx, pw.id, &snapshot); err != nil {
		pw.logger.Warn().Err(err).Msg("Progress write failed")
	}
}

// ProcessJob runs the full pipeline for a claimed job. The returned error is
// non-nil only when the terminal status could not be written or the context
// was cancelled; every in-pipeline failure is recorded on the job itself.
func (p *Processor) ProcessJob(ctx context.Context, job *types.Job) error {
	logger := log.WithJobID(job.JobID).With().Str("tenant", job.Username).Logger()
	logger.Info().Str("origin", string(job.Origin)).Msg("Processing job")

	// Step 0: load config
	blocklists, err := p.tenants.GetBlocklists(ctx, job.Username)
	if err != nil {
		return p.failJob(ctx, job, logger, err.Error())
	}
	whitelistText, err := p.tenants.GetWhitelist(ctx, job.Username)
	if err != nil {
		return p.failJob(ctx, job, logger, err.Error())
	}

	sources := downloader.ParseSources(blocklists)
	if len(sources) == 0 {
		return p.failJob(ctx, job, logger, failNoSources)
	}

	// Step 1: fingerprints
	wl := whitelist.Compile(whitelistText)
	configHash := ConfigHash(blocklists, whitelistText)
	fingerprint := ConfigFingerprint(sources, wl.PatternStrings())

	// Step 2: self-match skip
	storedHash, err := p.tenants.GetConfigHash(ctx, job.Username)
	if err != nil {
		logger.Warn().Err(err).Msg("Config hash lookup failed, skipping optimization")
	}
	if storedHash != nil && *storedHash == configHash && p.fetcher.CheckAllCached(ctx, sources) {
		logger.Info().Msg("Config unchanged and all sources cached, skipping build")
		metrics.JobsCompleted.WithLabelValues("skipped").Inc()
		return p.jobs.Skip(ctx, job.ID, SkipReason)
	}

	// Step 3: cross-tenant copy skip
	matched, err := p.tenants.FindByFingerprint(ctx, fingerprint, job.Username)
	if err != nil {
		logger.Warn().Err(err).Msg("Fingerprint lookup failed, skipping optimization")
	}
	if matched != nil {
		done, err := p.copyFromTenant(ctx, job, logger, matched, configHash, fingerprint)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Step 4: download
	stageStart := time.Now()
	pw := &progressWriter{
		jobs:     p.jobs,
		id:       job.ID,
		progress: types.NewDownloadingProgress(int64(len(sources))),
		logger:   logger,
	}
	for _, s := range sources {
		pw.progress.Sources = append(pw.progress.Sources, types.SourceProgress{
			ID:       store.HashURL(s.URL),
			Name:     s.Name,
			URL:      s.URL,
			Status:   types.SourcePending,
			Warnings: []string{},
		})
	}
	pw.update(ctx, func(*types.JobProgress) {})

	results := p.fetcher.DownloadSources(ctx, sources, func(idx int, sp types.SourceProgress) {
		pw.update(ctx, func(prog *types.JobProgress) {
			prog.Sources[idx] = sp
			prog.ProcessedSources++
			name := sp.Name
			prog.CurrentSource = &name
		})
	})
	metrics.StageDuration.WithLabelValues("download").Observe(time.Since(stageStart).Seconds())

	var sourcesProcessed, sourcesFailed int64
	for _, r := range results {
		if r.Error != nil {
			sourcesFailed++
		} else {
			sourcesProcessed++
		}
	}
	if sourcesProcessed == 0 {
		return p.failJob(ctx, job, logger, failAllDownloads)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Step 5: extract and bucket by category
	stageStart = time.Now()
	byCategory := make(map[string]map[string]struct{})
	union := make(map[string]struct{})
	var totalDomains int64

	for i, r := range results {
		if r.Error != nil {
			continue
		}
		domains := p.extractor.Extract(string(r.Content))
		count := int64(len(domains))
		totalDomains += count

		bucket := byCategory[r.Source.Category]
		if bucket == nil {
			bucket = make(map[string]struct{})
			byCategory[r.Source.Category] = bucket
		}
		for _, d := range domains {
			bucket[d] = struct{}{}
			union[d] = struct{}{}
		}

		idx, urlHash := i, r.URLHash
		var change *int64
		if r.PreviousDomainCount != nil {
			delta := count - *r.PreviousDomainCount
			change = &delta
		}
		pw.update(ctx, func(prog *types.JobProgress) {
			prog.Sources[idx].DomainCount = &count
			prog.Sources[idx].DomainChange = change
		})

		if err := p.cache.UpdateDomainCount(ctx, urlHash, count); err != nil {
			logger.Warn().Err(err).Str("source", r.Source.Name).Msg("Cache stats write failed")
		}
	}
	metrics.StageDuration.WithLabelValues("extract").Observe(time.Since(stageStart).Seconds())

	if len(union) == 0 {
		return p.failJob(ctx, job, logger, failNoDomains)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Step 6: whitelist
	stageStart = time.Now()
	domainsBefore := int64(len(union))
	pw.update(ctx, func(prog *types.JobProgress) {
		prog.ToWhitelist(domainsBefore)
	})

	kept, removedCount, patternMatches := wl.Filter(union)
	for cat, bucket := range byCategory {
		for d := range bucket {
			if _, ok := kept[d]; !ok {
				delete(bucket, d)
			}
		}
		if len(bucket) == 0 {
			delete(byCategory, cat)
		}
	}

	whitelistProgress := wl.Progress(domainsBefore, int64(len(kept)), patternMatches)
	pw.update(ctx, func(prog *types.JobProgress) {
		prog.Whitelist = &whitelistProgress
	})
	metrics.StageDuration.WithLabelValues("whitelist").Observe(time.Since(stageStart).Seconds())

	logger.Info().
		Int64("before", domainsBefore).
		Int64("removed", removedCount).
		Int("categories", len(byCategory)).
		Msg("Whitelist applied")

	if err := ctx.Err(); err != nil {
		return err
	}

	// Step 7: generate
	stageStart = time.Now()
	pw.update(ctx, func(prog *types.JobProgress) {
		prog.ToGeneration(int64(len(kept)))
	})

	gen, err := generator.New(p.cfg.OutputDir(job.Username))
	if err != nil {
		return p.failJob(ctx, job, logger, err.Error())
	}
	if err := gen.CleanupOldFiles(); err != nil {
		return p.failJob(ctx, job, logger, err.Error())
	}

	onFormat := func(fp types.FormatProgress) {
		pw.update(ctx, func(prog *types.JobProgress) {
			if prog.Generation == nil {
				return
			}
			format := fp.Format
			prog.Generation.CurrentFormat = &format
			for i := range prog.Generation.Formats {
				if prog.Generation.Formats[i].Format == fp.Format {
					prog.Generation.Formats[i] = fp
				}
			}
		})
	}

	categoryNames := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categoryNames = append(categoryNames, cat)
	}
	sort.Strings(categoryNames)

	var outputFiles []types.OutputFile
	categories := make(map[string]int64, len(byCategory))
	allDomains := make(map[string]struct{}, len(kept))

	for _, cat := range categoryNames {
		bucket := byCategory[cat]
		files, err := gen.GenerateList(generator.ListName(cat), extractor.SortDomains(bucket), onFormat)
		if err != nil {
			return p.failJob(ctx, job, logger, err.Error())
		}
		outputFiles = append(outputFiles, files...)
		categories[generator.ListName(cat)] = int64(len(bucket))

		// nsfw stays a standalone list, never part of the combined set
		if cat == "nsfw" {
			continue
		}
		for d := range bucket {
			allDomains[d] = struct{}{}
		}
	}

	allFiles, err := gen.GenerateList(generator.AllDomainsList, extractor.SortDomains(allDomains), onFormat)
	if err != nil {
		return p.failJob(ctx, job, logger, err.Error())
	}
	outputFiles = append(outputFiles, allFiles...)
	metrics.StageDuration.WithLabelValues("generate").Observe(time.Since(stageStart).Seconds())

	// Step 8: commit
	uniqueDomains := int64(len(allDomains))
	var totalOutputSize int64
	for _, f := range outputFiles {
		totalOutputSize += f.SizeBytes
	}

	result := types.SuccessResult(sourcesProcessed, sourcesFailed, totalDomains, uniqueDomains, removedCount, outputFiles)
	result.Categories = categories

	pw.update(ctx, func(prog *types.JobProgress) {
		prog.ToCompleted()
	})
	if err := p.jobs.Complete(ctx, job.ID, result); err != nil {
		return err
	}
	metrics.JobsCompleted.WithLabelValues("completed").Inc()
	metrics.DomainsEmitted.Set(float64(uniqueDomains))
	metrics.OutputBytes.Set(float64(totalOutputSize))

	lists := listMetadata(outputFiles)
	if err := p.tenants.UpdateAfterBuild(ctx, job.Username, lists, totalDomains, totalOutputSize, configHash, fingerprint); err != nil {
		logger.Warn().Err(err).Msg("Tenant stats write failed")
	}

	logger.Info().
		Int64("unique_domains", uniqueDomains).
		Int64("output_bytes", totalOutputSize).
		Int("files", len(outputFiles)).
		Msg("Job completed")
	return nil
}

// copyFromTenant tries to satisfy the job by copying the donor's output
// files. Returns done=false when the copy failed and a normal build should
// run instead.
func (p *Processor) copyFromTenant(ctx context.Context, job *types.Job, logger zerolog.Logger, matched *types.MatchedTenant, configHash, fingerprint string) (bool, error) {
	logger.Info().Str("donor", matched.Username).Msg("Matching config fingerprint found, copying output")

	copied, err := copyOutputFiles(p.cfg.OutputDir(matched.Username), p.cfg.OutputDir(job.Username))
	if err != nil {
		logger.Warn().Err(err).Str("donor", matched.Username).Msg("Output copy failed, falling back to full build")
		return false, nil
	}

	var result *types.JobResult
	donorResult, err := p.jobs.LastCompletedResult(ctx, matched.Username)
	if err != nil {
		logger.Warn().Err(err).Str("donor", matched.Username).Msg("Donor result lookup failed")
	}
	if donorResult != nil && len(donorResult.OutputFiles) > 0 {
		result = types.CopiedResult(matched.Username,
			donorResult.TotalDomains, donorResult.UniqueDomains, donorResult.OutputFiles,
			donorResult.SourcesProcessed, donorResult.SourcesFailed, donorResult.WhitelistedRemoved,
			donorResult.Categories)
	} else {
		files := copiedOutputFiles(copied, matched.Lists)
		result = types.CopiedResult(matched.Username,
			matched.TotalDomains, matched.TotalDomains, files, 0, 0, 0, nil)
	}

	progress := types.NewQueuedProgress()
	progress.ToCompleted()
	if err := p.jobs.UpdateProgress(ctx, job.ID, &progress); err != nil {
		logger.Warn().Err(err).Msg("Progress write failed")
	}

	if err := p.jobs.Complete(ctx, job.ID, result); err != nil {
		return false, err
	}
	metrics.JobsCompleted.WithLabelValues("copied").Inc()

	lists := listMetadata(result.OutputFiles)
	var totalOutputSize int64
	for _, f := range result.OutputFiles {
		totalOutputSize += f.SizeBytes
	}
	if err := p.tenants.UpdateAfterBuild(ctx, job.Username, lists, result.TotalDomains, totalOutputSize, configHash, fingerprint); err != nil {
		logger.Warn().Err(err).Msg("Tenant stats write failed")
	}

	logger.Info().Str("donor", matched.Username).Int("files", len(result.OutputFiles)).Msg("Job completed by copy")
	return true, nil
}

func (p *Processor) failJob(ctx context.Context, job *types.Job, logger zerolog.Logger, reason string) error {
	logger.Error().Str("reason", reason).Msg("Job failed")
	metrics.JobsCompleted.WithLabelValues("failed").Inc()
	return p.jobs.Fail(ctx, job.ID, []string{reason})
}

// listMetadata builds the per-list tenant metadata from the hosts-format
// descriptors
func listMetadata(files []types.OutputFile) []types.ListMetadata {
	now := time.Now().UTC()
	var lists []types.ListMetadata
	for _, f := range files {
		if f.Format != "hosts" {
			continue
		}
		lists = append(lists, types.ListMetadata{
			Name:        f.Name,
			IsPublic:    true,
			Formats:     append([]string(nil), generator.Formats...),
			DomainCount: f.DomainCount,
			LastUpdated: now,
		})
	}
	return lists
}
