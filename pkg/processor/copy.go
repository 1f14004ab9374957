package processor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/listforge/listforge/pkg/types"
)

type copiedFile struct {
	name      string // list name, e.g. all_domains
	format    string // hosts, plain, adblock
	sizeBytes int64
}

// copyOutputFiles replicates every compressed list from srcDir into dstDir,
// removing any preexisting lists in dstDir first. Each file is written to a
// temp name and renamed, so readers of dstDir never see a partial file.
func copyOutputFiles(srcDir, dstDir string) ([]copiedFile, error) {
	matches, err := filepath.Glob(filepath.Join(srcDir, "*.txt.gz"))
	if err != nil {
		return nil, fmt.Errorf("failed to list donor output files: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no output files to copy in %s", srcDir)
	}

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dstDir, err)
	}

	old, err := filepath.Glob(filepath.Join(dstDir, "*.gz"))
	if err != nil {
		return nil, fmt.Errorf("failed to list old output files: %w", err)
	}
	for _, path := range old {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove old output file %s: %w", path, err)
		}
	}

	files := make([]copiedFile, 0, len(matches))
	for _, src := range matches {
		base := filepath.Base(src)
		size, err := copyFile(src, filepath.Join(dstDir, base))
		if err != nil {
			return nil, err
		}
		name, format := splitListFilename(base)
		files = append(files, copiedFile{name: name, format: format, sizeBytes: size})
	}
	return files, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open donor file %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	size, err := io.Copy(tmp, in)
	if err != nil {
		return 0, fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return 0, fmt.Errorf("failed to move copied file into place: %w", err)
	}
	return size, nil
}

// splitListFilename recovers the list name and format from a
// <name>_<format>.txt.gz filename
func splitListFilename(base string) (string, string) {
	stem := strings.TrimSuffix(base, ".txt.gz")
	idx := strings.LastIndex(stem, "_")
	if idx < 0 {
		return stem, ""
	}
	return stem[:idx], stem[idx+1:]
}

// copiedOutputFiles derives output descriptors for copied files. Domain
// counts come from the donor's list metadata when available.
func copiedOutputFiles(files []copiedFile, donorLists []types.ListMetadata) []types.OutputFile {
	countByName := make(map[string]int64, len(donorLists))
	for _, l := range donorLists {
		countByName[l.Name] = l.DomainCount
	}

	out := make([]types.OutputFile, 0, len(files))
	for _, f := range files {
		out = append(out, types.OutputFile{
			Name:        f.name,
			Format:      f.format,
			SizeBytes:   f.sizeBytes,
			DomainCount: countByName[f.name],
		})
	}
	return out
}
