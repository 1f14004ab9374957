package extractor

import (
	"regexp"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Format identifies which blocklist syntax a line matched
type Format string

const (
	FormatHosts   Format = "hosts"
	FormatPlain   Format = "plain"
	FormatAdblock Format = "adblock"
)

// FormatCounts is the per-format breakdown of extracted lines
type FormatCounts struct {
	Hosts   int64
	Plain   int64
	Adblock int64
}

// Adblock modifiers that need request context a DNS resolver cannot have, or
// are browser-side effects; rules carrying them are skipped. "important" and
// "all" stay blockable at the DNS level.
var skippedModifiers = []string{
	"third-party",
	"badfilter",
	"removeparam",
	"redirect",
	"csp",
	"replace",
	"cookie",
}

const domainPattern = `[a-zA-Z0-9][-a-zA-Z0-9]*(?:\.[a-zA-Z0-9][-a-zA-Z0-9]*)+`

// Extractor is a line-oriented blocklist parser. It classifies each line as
// hosts, plain or adblock syntax, normalizes the domain to lowercase, and
// drops everything that is not a DNS-level rule.
type Extractor struct {
	hostsPattern    *regexp.Regexp
	plainPattern    *regexp.Regexp
	adblockPattern  *regexp.Regexp
	commentPattern  *regexp.Regexp
	cosmeticPattern *regexp.Regexp
}

// New creates an extractor with pre-compiled patterns
func New() *Extractor {
	return &Extractor{
		// Matches: 0.0.0.0 domain.com or 127.0.0.1 domain.com
		hostsPattern: regexp.MustCompile(`^(?:0\.0\.0\.0|127\.0\.0\.1)\s+(` + domainPattern + `)`),
		// Matches: just a domain on its own line
		plainPattern: regexp.MustCompile(`^(` + domainPattern + `)$`),
		// Matches: ||domain.com^ or ||domain.com^$modifiers
		adblockPattern: regexp.MustCompile(`^\|\|(` + domainPattern + `)\^?(\$.+)?$`),
		// Hosts (#) and adblock (!) comment lines
		commentPattern: regexp.MustCompile(`^[#!]`),
		// Cosmetic/CSS filters are browser-level rules, not DNS-level
		cosmeticPattern: regexp.MustCompile(`##|#@#|#\?#|#\$#|#\+js\(`),
	}
}

// ExtractLine classifies a single line. Returns the lowercased domain and
// the matched format, or ok=false when the line carries no DNS-level rule.
func (e *Extractor) ExtractLine(line string) (string, Format, bool) {
	line = strings.TrimSpace(line)

	if line == "" || e.commentPattern.MatchString(line) {
		return "", "", false
	}

	if e.cosmeticPattern.MatchString(line) {
		return "", "", false
	}

	// Hosts format first (most common)
	if caps := e.hostsPattern.FindStringSubmatch(line); caps != nil {
		return strings.ToLower(caps[1]), FormatHosts, true
	}

	if caps := e.adblockPattern.FindStringSubmatch(line); caps != nil {
		if modifiers := caps[2]; modifiers != "" {
			mods := strings.ToLower(modifiers)
			for _, skip := range skippedModifiers {
				if strings.Contains(mods, skip) {
					return "", "", false
				}
			}
		}
		return strings.ToLower(caps[1]), FormatAdblock, true
	}

	if caps := e.plainPattern.FindStringSubmatch(line); caps != nil {
		return strings.ToLower(caps[1]), FormatPlain, true
	}

	return "", "", false
}

// Extract parses content line by line and returns all extracted domains in
// input order. Deduplication happens at the pipeline level, not here.
func (e *Extractor) Extract(content string) []string {
	domains, _ := e.ExtractWithBreakdown(content)
	return domains
}

// ExtractWithBreakdown is Extract plus a per-format count of matched lines.
// Lines are partitioned across cores; extraction is embarrassingly parallel.
func (e *Extractor) ExtractWithBreakdown(content string) ([]string, FormatCounts) {
	lines := strings.Split(content, "\n")

	workers := runtime.GOMAXPROCS(0)
	if workers > len(lines) {
		workers = len(lines)
	}
	if workers < 1 {
		workers = 1
	}

	type shardResult struct {
		domains []string
		counts  FormatCounts
	}

	results := make([]shardResult, workers)
	shardSize := (len(lines) + workers - 1) / workers

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		start := w * shardSize
		end := start + shardSize
		if end > len(lines) {
			end = len(lines)
		}
		if start >= end {
			continue
		}
		w := w
		shard := lines[start:end]
		g.Go(func() error {
			res := shardResult{}
			for _, line := range shard {
				domain, format, ok := e.ExtractLine(line)
				if !ok {
					continue
				}
				res.domains = append(res.domains, domain)
				switch format {
				case FormatHosts:
					res.counts.Hosts++
				case FormatPlain:
					res.counts.Plain++
				case FormatAdblock:
					res.counts.Adblock++
				}
			}
			results[w] = res
			return nil
		})
	}
	g.Wait() //nolint:errcheck // shards never return errors

	var total int
	for _, r := range results {
		total += len(r.domains)
	}
	domains := make([]string, 0, total)
	var counts FormatCounts
	for _, r := range results {
		domains = append(domains, r.domains...)
		counts.Hosts += r.counts.Hosts
		counts.Plain += r.counts.Plain
		counts.Adblock += r.counts.Adblock
	}

	return domains, counts
}

// SortDomains converts a deduplicated domain set into a lexicographically
// sorted slice. Shards are sorted in parallel and merged pairwise.
func SortDomains(domains map[string]struct{}) []string {
	out := make([]string, 0, len(domains))
	for d := range domains {
		out = append(out, d)
	}

	workers := runtime.GOMAXPROCS(0)
	if len(out) < 4096 || workers < 2 {
		sort.Strings(out)
		return out
	}

	shardSize := (len(out) + workers - 1) / workers
	shards := make([][]string, 0, workers)
	for start := 0; start < len(out); start += shardSize {
		end := start + shardSize
		if end > len(out) {
			end = len(out)
		}
		shards = append(shards, out[start:end])
	}

	var g errgroup.Group
	for _, shard := range shards {
		shard := shard
		g.Go(func() error {
			sort.Strings(shard)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	for len(shards) > 1 {
		merged := make([][]string, 0, (len(shards)+1)/2)
		for i := 0; i < len(shards); i += 2 {
			if i+1 == len(shards) {
				merged = append(merged, shards[i])
				continue
			}
			merged = append(merged, mergeSorted(shards[i], shards[i+1]))
		}
		shards = merged
	}
	return shards[0]
}

func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
