// Package generator renders domain sets into the published output formats.
//
// Every list is emitted in three formats (hosts, plain, adblock), each as a
// gzip-compressed text file named <list>_<format>.txt.gz. Files are written
// to a temp file in the target directory and renamed into place, so a reader
// never observes a partially written list.
package generator

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/listforge/listforge/pkg/log"
	"github.com/listforge/listforge/pkg/types"
)

// Formats are the output formats emitted for every list, in emission order
var Formats = []string{"hosts", "plain", "adblock"}

// AllDomainsList is the name of the combined list spanning all categories
const AllDomainsList = "all_domains"

// UncategorizedList is the list name for sources without a category
const UncategorizedList = "uncategorized"

// progressEvery is how many written domains pass between progress callbacks
const progressEvery = 100_000

// ListName maps a source category to its output list name
func ListName(category string) string {
	if category == "" {
		return UncategorizedList
	}
	return category
}

// Generator writes output lists into a single tenant output directory
type Generator struct {
	outputDir string
}

// New creates a generator rooted at outputDir, creating it if needed
func New(outputDir string) (*Generator, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}
	return &Generator{outputDir: outputDir}, nil
}

// OutputDir returns the directory this generator writes into
func (g *Generator) OutputDir() string {
	return g.outputDir
}

// CleanupOldFiles removes every compressed list in the output directory.
// Called before generation so lists dropped from the config do not linger.
func (g *Generator) CleanupOldFiles() error {
	matches, err := filepath.Glob(filepath.Join(g.outputDir, "*.gz"))
	if err != nil {
		return fmt.Errorf("failed to list old output files: %w", err)
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove old output file %s: %w", path, err)
		}
	}
	if len(matches) > 0 {
		genLogger := log.WithComponent("generator")
		genLogger.Debug().
			Int("removed", len(matches)).Str("dir", g.outputDir).Msg("Removed old output files")
	}
	return nil
}

// GenerateList writes one named list in all formats. domains must already be
// sorted and deduplicated. onFormat, when non-nil, receives per-format
// progress; it is called from the generating goroutine.
func (g *Generator) GenerateList(name string, domains []string, onFormat func(types.FormatProgress)) ([]types.OutputFile, error) {
	files := make([]types.OutputFile, 0, len(Formats))

	for _, format := range Formats {
		file, err := g.generateFormat(name, format, domains, onFormat)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}

	genLogger := log.WithComponent("generator")
	genLogger.Info().
		Str("list", name).Int("domains", len(domains)).Msg("Generated list")
	return files, nil
}

func (g *Generator) generateFormat(name, format string, domains []string, onFormat func(types.FormatProgress)) (types.OutputFile, error) {
	total := int64(len(domains))
	report := func(p types.FormatProgress) {
		if onFormat != nil {
			onFormat(p)
		}
	}

	report(types.FormatProgress{Format: format, Status: types.FormatGenerating, TotalDomains: total})

	finalPath := filepath.Join(g.outputDir, fmt.Sprintf("%s_%s.txt.gz", name, format))
	tmp, err := os.CreateTemp(g.outputDir, fmt.Sprintf(".%s_%s.*.tmp", name, format))
	if err != nil {
		return types.OutputFile{}, fmt.Errorf("failed to create temp output file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		// No-ops after the successful rename
		tmp.Close()
		os.Remove(tmpPath)
	}()

	gz := gzip.NewWriter(tmp)
	w := bufio.NewWriterSize(gz, 256*1024)

	var uncompressed int64
	for i, domain := range domains {
		var n int
		switch format {
		case "hosts":
			n, err = fmt.Fprintf(w, "0.0.0.0 %s\n", domain)
		case "adblock":
			n, err = fmt.Fprintf(w, "||%s^\n", domain)
		default:
			n, err = fmt.Fprintf(w, "%s\n", domain)
		}
		if err != nil {
			return types.OutputFile{}, fmt.Errorf("failed to write output file %s: %w", finalPath, err)
		}
		uncompressed += int64(n)

		if written := int64(i + 1); written%progressEvery == 0 {
			report(types.FormatProgress{
				Format:         format,
				Status:         types.FormatGenerating,
				DomainsWritten: written,
				TotalDomains:   total,
				Percent:        float64(written) / float64(total) * 100,
			})
		}
	}

	report(types.FormatProgress{
		Format:         format,
		Status:         types.FormatCompressing,
		DomainsWritten: total,
		TotalDomains:   total,
		Percent:        100,
		FileSize:       &uncompressed,
	})

	if err := w.Flush(); err != nil {
		return types.OutputFile{}, fmt.Errorf("failed to flush output file %s: %w", finalPath, err)
	}
	if err := gz.Close(); err != nil {
		return types.OutputFile{}, fmt.Errorf("failed to finalize gzip stream for %s: %w", finalPath, err)
	}
	if err := tmp.Close(); err != nil {
		return types.OutputFile{}, fmt.Errorf("failed to close temp output file: %w", err)
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return types.OutputFile{}, fmt.Errorf("failed to stat temp output file: %w", err)
	}
	gzSize := info.Size()

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return types.OutputFile{}, fmt.Errorf("failed to move output file into place: %w", err)
	}

	report(types.FormatProgress{
		Format:         format,
		Status:         types.FormatCompleted,
		DomainsWritten: total,
		TotalDomains:   total,
		Percent:        100,
		FileSize:       &uncompressed,
		GzSize:         &gzSize,
	})

	return types.OutputFile{
		Name:        name,
		Format:      format,
		SizeBytes:   gzSize,
		DomainCount: total,
	}, nil
}
