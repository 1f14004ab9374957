package whitelist

import (
	"regexp"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/listforge/listforge/pkg/log"
	"github.com/listforge/listforge/pkg/types"
)

// PatternType classifies a whitelist pattern
type PatternType string

const (
	PatternExact     PatternType = "exact"
	PatternSubdomain PatternType = "subdomain"
	PatternWildcard  PatternType = "wildcard"
	PatternRegex     PatternType = "regex"
)

// PatternInfo keeps a pattern's original text for progress reporting
type PatternInfo struct {
	Original string
	Type     PatternType
}

type subdomainPattern struct {
	exact  string
	dotted string // pre-computed ".suffix", no allocation during matching
}

// Whitelist is a compiled whitelist with O(1) exact lookups and a single
// combined regex for wildcard and regex patterns.
type Whitelist struct {
	exact      map[string]struct{}
	subdomains []subdomainPattern
	combined   *regexp.Regexp

	// Per-pattern matchers for post-hoc stats; indexed like allPatterns,
	// nil for patterns the combined regex does not cover.
	matchers    []*regexp.Regexp
	allPatterns []PatternInfo
}

// Compile parses whitelist content into match structures. A '#' starts an
// inline comment through end of line; blank lines are ignored. Patterns with
// an invalid regex are dropped with a warning and processing continues.
func Compile(content string) *Whitelist {
	logger := log.WithComponent("whitelist")

	w := &Whitelist{
		exact: make(map[string]struct{}),
	}
	var alternation []string

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}

		switch {
		// Regex pattern: /pattern/
		case strings.HasPrefix(line, "/") && strings.HasSuffix(line, "/") && len(line) > 2:
			expr := line[1 : len(line)-1]
			re, err := regexp.Compile(expr)
			if err != nil {
				logger.Warn().Str("pattern", line).Err(err).Msg("Dropping invalid regex pattern")
				w.allPatterns = append(w.allPatterns, PatternInfo{Original: line, Type: PatternRegex})
				w.matchers = append(w.matchers, nil)
				continue
			}
			alternation = append(alternation, "(?:"+expr+")")
			w.allPatterns = append(w.allPatterns, PatternInfo{Original: line, Type: PatternRegex})
			w.matchers = append(w.matchers, re)

		// Subdomain pattern: @@domain.com
		case strings.HasPrefix(line, "@@"):
			domain := strings.ToLower(strings.TrimPrefix(line, "@@"))
			w.subdomains = append(w.subdomains, subdomainPattern{exact: domain, dotted: "." + domain})
			w.allPatterns = append(w.allPatterns, PatternInfo{Original: line, Type: PatternSubdomain})
			w.matchers = append(w.matchers, nil)

		// Wildcard pattern: *.domain.com (any position)
		case strings.Contains(line, "*"):
			expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(line), `\*`, ".*") + "$"
			re := regexp.MustCompile(expr) // QuoteMeta output always compiles
			alternation = append(alternation, "(?:"+expr+")")
			w.allPatterns = append(w.allPatterns, PatternInfo{Original: line, Type: PatternWildcard})
			w.matchers = append(w.matchers, re)

		// Exact match
		default:
			w.exact[strings.ToLower(line)] = struct{}{}
			w.allPatterns = append(w.allPatterns, PatternInfo{Original: line, Type: PatternExact})
			w.matchers = append(w.matchers, nil)
		}
	}

	if len(alternation) > 0 {
		combined, err := regexp.Compile(strings.Join(alternation, "|"))
		if err != nil {
			// Individual patterns compiled, so this should not happen;
			// degrade to per-pattern matching.
			logger.Warn().Err(err).Msg("Failed to compile combined pattern set")
		} else {
			w.combined = combined
		}
	}

	logger.Info().
		Int("patterns", len(w.allPatterns)).
		Int("exact", len(w.exact)).
		Int("subdomain", len(w.subdomains)).
		Int("combined", len(alternation)).
		Msg("Compiled whitelist")

	return w
}

// Len returns the number of parsed patterns
func (w *Whitelist) Len() int {
	return len(w.allPatterns)
}

// PatternStrings returns the original pattern texts in parse order. This is
// the canonical pattern list used for config fingerprinting.
func (w *Whitelist) PatternStrings() []string {
	out := make([]string, len(w.allPatterns))
	for i, p := range w.allPatterns {
		out[i] = p.Original
	}
	return out
}

// IsWhitelisted tests a domain: exact set first, then subdomain suffixes,
// then the combined regex. Short-circuits on first match.
func (w *Whitelist) IsWhitelisted(domain string) bool {
	if _, ok := w.exact[domain]; ok {
		return true
	}

	for _, p := range w.subdomains {
		if domain == p.exact || strings.HasSuffix(domain, p.dotted) {
			return true
		}
	}

	if w.combined != nil && w.combined.MatchString(domain) {
		return true
	}

	return false
}

// matchesPattern tests a domain against a single original pattern, used for
// post-hoc stats only
func (w *Whitelist) matchesPattern(domain string, idx int) bool {
	p := w.allPatterns[idx]
	switch p.Type {
	case PatternExact:
		return strings.ToLower(p.Original) == domain
	case PatternSubdomain:
		suffix := strings.ToLower(strings.TrimPrefix(p.Original, "@@"))
		return domain == suffix || strings.HasSuffix(domain, "."+suffix)
	case PatternWildcard, PatternRegex:
		re := w.matchers[idx]
		return re != nil && re.MatchString(domain)
	}
	return false
}

// Filter partitions domains into kept and removed sets. Returns the kept
// set, the removed count, and the top 20 patterns by match count over the
// removed domains.
func (w *Whitelist) Filter(domains map[string]struct{}) (map[string]struct{}, int64, []types.WhitelistPatternMatch) {
	if len(w.allPatterns) == 0 {
		return domains, 0, nil
	}

	all := make([]string, 0, len(domains))
	for d := range domains {
		all = append(all, d)
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > len(all) {
		workers = len(all)
	}
	if workers < 1 {
		workers = 1
	}

	type part struct {
		kept    []string
		removed []string
	}
	parts := make([]part, workers)
	shardSize := (len(all) + workers - 1) / workers

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		start := i * shardSize
		end := start + shardSize
		if end > len(all) {
			end = len(all)
		}
		if start >= end {
			continue
		}
		i := i
		shard := all[start:end]
		g.Go(func() error {
			p := part{}
			for _, d := range shard {
				if w.IsWhitelisted(d) {
					p.removed = append(p.removed, d)
				} else {
					p.kept = append(p.kept, d)
				}
			}
			parts[i] = p
			return nil
		})
	}
	g.Wait() //nolint:errcheck // shards never return errors

	kept := make(map[string]struct{}, len(domains))
	var removed []string
	for _, p := range parts {
		for _, d := range p.kept {
			kept[d] = struct{}{}
		}
		removed = append(removed, p.removed...)
	}

	return kept, int64(len(removed)), w.patternStats(removed)
}

// patternStats re-matches removed domains against each original pattern and
// returns the top 20 by match count
func (w *Whitelist) patternStats(removed []string) []types.WhitelistPatternMatch {
	if len(removed) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(w.allPatterns))
	var matches []types.WhitelistPatternMatch

	for idx, p := range w.allPatterns {
		if _, dup := seen[p.Original]; dup {
			continue
		}
		var count int64
		for _, d := range removed {
			if w.matchesPattern(d, idx) {
				count++
			}
		}
		if count > 0 {
			seen[p.Original] = struct{}{}
			matches = append(matches, types.WhitelistPatternMatch{
				Pattern:     p.Original,
				PatternType: string(p.Type),
				MatchCount:  count,
				Samples:     []string{},
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchCount > matches[j].MatchCount
	})
	if len(matches) > 20 {
		matches = matches[:20]
	}
	return matches
}

// Progress builds the whitelist stage progress document
func (w *Whitelist) Progress(domainsBefore, domainsAfter int64, patterns []types.WhitelistPatternMatch) types.WhitelistProgress {
	removed := domainsBefore - domainsAfter
	if removed < 0 {
		removed = 0
	}
	if patterns == nil {
		patterns = []types.WhitelistPatternMatch{}
	}
	return types.WhitelistProgress{
		DomainsBefore: domainsBefore,
		DomainsAfter:  domainsAfter,
		TotalRemoved:  removed,
		Patterns:      patterns,
	}
}
