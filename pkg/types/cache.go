package types

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CacheStats tracks download and access counters for a cache entry. The
// access counters are authoritative for eviction decisions.
type CacheStats struct {
	SizeBytes      int64      `bson:"size_bytes"`
	DomainCount    int64      `bson:"domain_count"`
	DownloadCount  int64      `bson:"download_count"`
	AccessCount    int64      `bson:"access_count"`
	LastDownloadAt *time.Time `bson:"last_download_at,omitempty"`
	LastAccessedAt *time.Time `bson:"last_accessed_at,omitempty"`
}

// CacheEntry is a cached source body keyed by the SHA-256 of its URL.
//
// Content lives either inline in the document or behind a GridFS handle,
// never both. Every non-nil ContentID must resolve to a stored object.
type CacheEntry struct {
	URLHash      string              `bson:"url_hash"`
	URL          *string             `bson:"url,omitempty"`
	Content      primitive.Binary    `bson:"content,omitempty"`
	ContentID    *primitive.ObjectID `bson:"content_id,omitempty"`
	ETag         *string             `bson:"etag,omitempty"`
	LastModified *string             `bson:"last_modified,omitempty"`
	ContentHash  *string             `bson:"content_hash,omitempty"`
	Stats        CacheStats          `bson:"stats"`
	UpdatedAt    *time.Time          `bson:"updated_at,omitempty"`
}

// Source is one blocklist source parsed from a tenant's config.
// An empty Category means the source joins the uncategorized bucket.
type Source struct {
	Name     string
	URL      string
	Category string
}
