package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/listforge/listforge/pkg/config"
	"github.com/listforge/listforge/pkg/log"
	"github.com/listforge/listforge/pkg/types"
)

// validCacheWindow is the horizon for HasValidCache, the predicate consulted
// by the unchanged-config skip optimization.
const validCacheWindow = 7 * 24 * time.Hour

// CacheRepository is the content-addressed store of fetched source bodies.
// Bodies live inline in the cache document or behind a GridFS handle; the
// external contract is identical in both modes. The cache is shared across
// workers: concurrent writes to the same url hash race, last writer wins.
type CacheRepository struct {
	collection *mongo.Collection
	bucket     *gridfs.Bucket // nil in inline mode
}

// NewCacheRepository creates a cache repository in the given storage mode
func NewCacheRepository(db *mongo.Database, storage config.CacheStorage) (*CacheRepository, error) {
	r := &CacheRepository{
		collection: db.Collection("cache"),
	}

	if storage == config.CacheStorageGridFS {
		bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName("cache_content"))
		if err != nil {
			return nil, fmt.Errorf("failed to open GridFS bucket: %w", err)
		}
		r.bucket = bucket
	}

	return r, nil
}

// HashURL returns the cache key for a URL: SHA-256 as lowercase hex
func HashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// GetContent returns the cached body for a url hash, or nil when absent. A
// hit bumps last_accessed_at and access_count best-effort.
func (r *CacheRepository) GetContent(ctx context.Context, urlHash string) ([]byte, error) {
	entry, err := r.find(ctx, urlHash)
	if err != nil || entry == nil {
		return nil, err
	}

	var content []byte
	switch {
	case entry.ContentID != nil && r.bucket != nil:
		var buf bytes.Buffer
		if _, err := r.bucket.DownloadToStream(*entry.ContentID, &buf); err != nil {
			return nil, fmt.Errorf("failed to read cached content: %w", err)
		}
		content = buf.Bytes()
	case len(entry.Content.Data) > 0:
		content = entry.Content.Data
	default:
		return nil, nil
	}

	// The access bump is a side effect; a hit must not turn into a miss
	// because the counters could not be written.
	if err := r.Touch(ctx, urlHash); err != nil {
		cacheLogger := log.WithComponent("cache")
		cacheLogger.Warn().Err(err).
			Str("url_hash", urlHash).Msg("Failed to touch cache entry")
	}
	return content, nil
}

// GetDomainCount returns the stored domain count for a url hash, or nil when
// the entry is absent. The extract stage uses this for the per-source delta.
func (r *CacheRepository) GetDomainCount(ctx context.Context, urlHash string) (*int64, error) {
	entry, err := r.find(ctx, urlHash)
	if err != nil || entry == nil {
		return nil, err
	}
	count := entry.Stats.DomainCount
	return &count, nil
}

// Store writes or replaces the body and metadata for a url hash. In GridFS
// mode the previous object is deleted best-effort; a leaked object is swept
// by CleanupStale later.
func (r *CacheRepository) Store(ctx context.Context, urlHash, url string, content []byte, etag, lastModified *string, domainCount int64) error {
	now := time.Now().UTC()

	sum := sha256.Sum256(content)
	contentHash := hex.EncodeToString(sum[:])

	set := bson.M{
		"url":                    url,
		"etag":                   etag,
		"last_modified":          lastModified,
		"content_hash":           contentHash,
		"stats.size_bytes":       int64(len(content)),
		"stats.domain_count":     domainCount,
		"stats.last_download_at": now,
		"updated_at":             now,
	}

	if r.bucket != nil {
		prev, err := r.find(ctx, urlHash)
		if err != nil {
			return err
		}

		id, err := r.bucket.UploadFromStream(urlHash, bytes.NewReader(content))
		if err != nil {
			return fmt.Errorf("failed to upload cached content: %w", err)
		}
		set["content_id"] = id
		set["content"] = nil

		if prev != nil && prev.ContentID != nil {
			if err := r.bucket.Delete(*prev.ContentID); err != nil {
				cacheLogger := log.WithComponent("cache")
				cacheLogger.Warn().Err(err).
					Str("url_hash", urlHash).Msg("Failed to delete replaced cache object")
			}
		}
	} else {
		set["content"] = primitive.Binary{Subtype: 0x00, Data: content}
		set["content_id"] = nil
	}

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"url_hash": urlHash},
		bson.M{
			"$set":         set,
			"$inc":         bson.M{"stats.download_count": int64(1)},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// Touch bumps the access counters on a cache entry
func (r *CacheRepository) Touch(ctx context.Context, urlHash string) error {
	now := time.Now().UTC()

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"url_hash": urlHash},
		bson.M{
			"$set": bson.M{"stats.last_accessed_at": now},
			"$inc": bson.M{"stats.access_count": int64(1)},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to touch cache entry: %w", err)
	}
	return nil
}

// UpdateDomainCount replaces the estimated domain count with the real one
// after extraction
func (r *CacheRepository) UpdateDomainCount(ctx context.Context, urlHash string, domainCount int64) error {
	now := time.Now().UTC()

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"url_hash": urlHash},
		bson.M{"$set": bson.M{
			"stats.domain_count": domainCount,
			"updated_at":         now,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update domain count: %w", err)
	}
	return nil
}

// HasValidCache reports whether an entry exists with content no older than
// the valid-cache window
func (r *CacheRepository) HasValidCache(ctx context.Context, urlHash string) (bool, error) {
	cutoff := time.Now().UTC().Add(-validCacheWindow)

	filter := bson.M{
		"url_hash": urlHash,
		"$or": []bson.M{
			{"content": bson.M{"$exists": true, "$ne": nil}},
			{"content_id": bson.M{"$exists": true, "$ne": nil}},
		},
		"updated_at": bson.M{"$gte": cutoff},
	}

	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("failed to check cache validity: %w", err)
	}
	return count > 0, nil
}

// CleanupStale deletes entries not updated within ttlDays. GridFS objects go
// first so every handle left in metadata still resolves. Returns the number
// of deleted entries.
func (r *CacheRepository) CleanupStale(ctx context.Context, ttlDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -ttlDays)
	filter := bson.M{"updated_at": bson.M{"$lt": cutoff}}

	if r.bucket != nil {
		cursor, err := r.collection.Find(ctx, filter,
			options.Find().SetProjection(bson.M{"content_id": 1}))
		if err != nil {
			return 0, fmt.Errorf("failed to list stale cache entries: %w", err)
		}
		defer cursor.Close(ctx)

		for cursor.Next(ctx) {
			var entry types.CacheEntry
			if err := cursor.Decode(&entry); err != nil {
				return 0, fmt.Errorf("failed to decode stale cache entry: %w", err)
			}
			if entry.ContentID == nil {
				continue
			}
			if err := r.bucket.Delete(*entry.ContentID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
				return 0, fmt.Errorf("failed to delete stale cache object: %w", err)
			}
		}
		if err := cursor.Err(); err != nil {
			return 0, fmt.Errorf("failed to iterate stale cache entries: %w", err)
		}
	}

	result, err := r.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale cache entries: %w", err)
	}
	return result.DeletedCount, nil
}

func (r *CacheRepository) find(ctx context.Context, urlHash string) (*types.CacheEntry, error) {
	var entry types.CacheEntry
	err := r.collection.FindOne(ctx, bson.M{"url_hash": urlHash}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return &entry, nil
}
