package processor

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/listforge/listforge/pkg/types"
)

// configHashSeparator joins the two config documents for the byte-exact hash
const configHashSeparator = "\n---SEPARATOR---\n"

// ConfigHash is the byte-exact hash of a tenant's configuration. Any edit to
// either document, including whitespace, changes it.
func ConfigHash(blocklists, whitelist string) string {
	h := sha256.New()
	h.Write([]byte(blocklists))
	h.Write([]byte(configHashSeparator))
	h.Write([]byte(whitelist))
	return hex.EncodeToString(h.Sum(nil))
}

// ConfigFingerprint is the canonicalized hash used for cross-tenant matching.
// It is stable under source reordering, renaming case, trailing slashes and
// comment or whitespace changes, but sensitive to the effective source set
// and the parsed whitelist pattern list. Sources are ordered by their raw
// URL before normalization.
func ConfigFingerprint(sources []types.Source, whitelistPatterns []string) string {
	sorted := make([]types.Source, len(sources))
	copy(sorted, sources)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].URL < sorted[j].URL })

	lines := make([]string, 0, len(sorted))
	for _, s := range sorted {
		url := strings.ToLower(strings.TrimRight(s.URL, "/"))
		lines = append(lines, url+"|"+strings.ToLower(s.Name)+"|"+strings.ToLower(s.Category))
	}

	h := sha256.New()
	h.Write([]byte(strings.Join(lines, "\n")))
	h.Write([]byte("\n---\n"))
	h.Write([]byte(strings.Join(whitelistPatterns, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}
