package downloader

import (
	"net/url"
	"strings"

	"github.com/listforge/listforge/pkg/types"
)

// ParseSources parses blocklist config text into sources.
//
// One source per line: url|name|category, with name and category optional.
// Lines that are empty or start with '#' are ignored; the name defaults to
// the URL host; duplicate URLs beyond the first are dropped.
func ParseSources(content string) []types.Source {
	var sources []types.Source
	seen := make(map[string]struct{})

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "|", 3)
		raw := strings.TrimSpace(parts[0])

		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || u.Host == "" {
			continue
		}

		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}

		name := u.Host
		if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
			name = strings.TrimSpace(parts[1])
		}

		var category string
		if len(parts) > 2 {
			category = strings.TrimSpace(parts[2])
		}

		sources = append(sources, types.Source{
			Name:     name,
			URL:      raw,
			Category: category,
		})
	}

	return sources
}
