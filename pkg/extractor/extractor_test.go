package extractor

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractLine(t *testing.T) {
	e := New()

	tests := []struct {
		name   string
		line   string
		domain string
		format Format
		ok     bool
	}{
		{
			name:   "hosts 0.0.0.0",
			line:   "0.0.0.0 ads.example.com",
			domain: "ads.example.com",
			format: FormatHosts,
			ok:     true,
		},
		{
			name:   "hosts 127.0.0.1",
			line:   "127.0.0.1 tracker.example.com",
			domain: "tracker.example.com",
			format: FormatHosts,
			ok:     true,
		},
		{
			name:   "adblock",
			line:   "||ads.example.com^",
			domain: "ads.example.com",
			format: FormatAdblock,
			ok:     true,
		},
		{
			name:   "adblock without caret",
			line:   "||ads.example.com",
			domain: "ads.example.com",
			format: FormatAdblock,
			ok:     true,
		},
		{
			name:   "adblock important modifier kept",
			line:   "||ads.example.com^$important",
			domain: "ads.example.com",
			format: FormatAdblock,
			ok:     true,
		},
		{
			name: "adblock third-party skipped",
			line: "||facebook.com^$third-party",
			ok:   false,
		},
		{
			name: "adblock badfilter skipped",
			line: "||example.com^$badfilter",
			ok:   false,
		},
		{
			name: "adblock removeparam skipped",
			line: "||example.com^$removeparam=utm_source",
			ok:   false,
		},
		{
			name: "adblock mixed-case modifier skipped",
			line: "||example.com^$Third-Party",
			ok:   false,
		},
		{
			name:   "plain",
			line:   "ads.example.com",
			domain: "ads.example.com",
			format: FormatPlain,
			ok:     true,
		},
		{
			name:   "uppercase normalized",
			line:   "0.0.0.0 ADS.Example.COM",
			domain: "ads.example.com",
			format: FormatHosts,
			ok:     true,
		},
		{
			name:   "leading whitespace trimmed",
			line:   "   ads.example.com  ",
			domain: "ads.example.com",
			format: FormatPlain,
			ok:     true,
		},
		{
			name: "hosts comment",
			line: "# This is a comment",
			ok:   false,
		},
		{
			name: "adblock comment",
			line: "! Adblock comment",
			ok:   false,
		},
		{
			name: "empty line",
			line: "",
			ok:   false,
		},
		{
			name: "cosmetic element hiding",
			line: "example.com##.ad-banner",
			ok:   false,
		},
		{
			name: "cosmetic exception",
			line: "example.com#@#.ad-banner",
			ok:   false,
		},
		{
			name: "scriptlet injection",
			line: "example.com#%#+js(abort-on-property-read, alert)",
			ok:   false,
		},
		{
			name: "bare tld",
			line: "localhost",
			ok:   false,
		},
		{
			name: "garbage",
			line: "not a $ valid || line ^",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			domain, format, ok := e.ExtractLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.domain, domain)
				assert.Equal(t, tt.format, format)
			}
		})
	}
}

func TestExtractWithBreakdown(t *testing.T) {
	e := New()

	content := "# comment\n" +
		"0.0.0.0 a.example.com\n" +
		"b.example.com\n" +
		"||c.example.com^\n" +
		"||skip.example.com^$third-party\n" +
		"\n" +
		"0.0.0.0 a.example.com\n"

	domains, counts := e.ExtractWithBreakdown(content)

	// Duplicates are preserved; dedup is the pipeline's job
	assert.Equal(t, []string{"a.example.com", "b.example.com", "c.example.com", "a.example.com"}, domains)
	assert.Equal(t, int64(2), counts.Hosts)
	assert.Equal(t, int64(1), counts.Plain)
	assert.Equal(t, int64(1), counts.Adblock)
}

func TestExtractLargeContentParallel(t *testing.T) {
	e := New()

	var sb []byte
	want := make(map[string]struct{})
	for i := 0; i < 20000; i++ {
		d := fmt.Sprintf("host%05d.example.com", i)
		want[d] = struct{}{}
		sb = append(sb, []byte("0.0.0.0 "+d+"\n")...)
	}

	domains := e.Extract(string(sb))
	require.Len(t, domains, 20000)

	got := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		got[d] = struct{}{}
	}
	assert.Equal(t, want, got)
}

func TestSortDomains(t *testing.T) {
	set := map[string]struct{}{
		"b.example.com": {},
		"a.example.com": {},
		"c.example.com": {},
	}

	sorted := SortDomains(set)
	assert.Equal(t, []string{"a.example.com", "b.example.com", "c.example.com"}, sorted)
}

func TestSortDomainsLarge(t *testing.T) {
	set := make(map[string]struct{})
	for i := 0; i < 50000; i++ {
		set[fmt.Sprintf("host%d.example.com", i)] = struct{}{}
	}

	sorted := SortDomains(set)
	require.Len(t, sorted, 50000)
	assert.True(t, sort.StringsAreSorted(sorted))

	// Permutation of the input set
	seen := make(map[string]struct{}, len(sorted))
	for _, d := range sorted {
		seen[d] = struct{}{}
	}
	assert.Equal(t, set, seen)
}
