package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/listforge/listforge/pkg/config"
)

func TestHashURL(t *testing.T) {
	hash := HashURL("https://lists.example.com/ads.txt")
	assert.Len(t, hash, 64)
	assert.Regexp(t, "^[0-9a-f]+$", hash)
	assert.Equal(t, hash, HashURL("https://lists.example.com/ads.txt"))
	assert.NotEqual(t, hash, HashURL("https://lists.example.com/ads.txt/"))
}

func TestHasValidCache(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("entry inside the window", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "blocklist.cache", mtest.FirstBatch,
			bson.D{{Key: "n", Value: int32(1)}}))

		repo, err := NewCacheRepository(mt.DB, config.CacheStorageInline)
		require.NoError(mt, err)

		before := time.Now().UTC().Add(-validCacheWindow)
		ok, err := repo.HasValidCache(context.Background(), "abc123")
		after := time.Now().UTC().Add(-validCacheWindow)
		require.NoError(mt, err)
		assert.True(mt, ok)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, "aggregate", evt.CommandName)

		match := evt.Command.Lookup("pipeline").Array().
			Index(0).Value().Document().Lookup("$match").Document()
		assert.Equal(mt, "abc123", match.Lookup("url_hash").StringValue())

		// The cutoff is exactly now minus the window
		cutoff := match.Lookup("updated_at").Document().Lookup("$gte").Time()
		assert.False(mt, cutoff.Before(before.Add(-time.Second)))
		assert.False(mt, cutoff.After(after.Add(time.Second)))

		// Content in either storage slot qualifies
		branches, err := match.Lookup("$or").Array().Values()
		require.NoError(mt, err)
		assert.Len(mt, branches, 2)
	})

	mt.Run("no matching entry", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "blocklist.cache", mtest.FirstBatch))

		repo, err := NewCacheRepository(mt.DB, config.CacheStorageInline)
		require.NoError(mt, err)

		ok, err := repo.HasValidCache(context.Background(), "abc123")
		require.NoError(mt, err)
		assert.False(mt, ok)
	})
}

func TestGetContent(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	body := []byte("0.0.0.0 ads.example.com\n")
	entry := bson.D{
		{Key: "url_hash", Value: "abc123"},
		{Key: "content", Value: primitive.Binary{Subtype: 0x00, Data: body}},
		{Key: "stats", Value: bson.D{{Key: "domain_count", Value: int64(1)}}},
	}

	mt.Run("inline hit", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "blocklist.cache", mtest.FirstBatch, entry),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
		)

		repo, err := NewCacheRepository(mt.DB, config.CacheStorageInline)
		require.NoError(mt, err)

		content, err := repo.GetContent(context.Background(), "abc123")
		require.NoError(mt, err)
		assert.Equal(mt, body, content)
	})

	mt.Run("hit survives a failed access bump", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "blocklist.cache", mtest.FirstBatch, entry),
			mtest.CreateCommandErrorResponse(mtest.CommandError{
				Code: 11601, Name: "Interrupted", Message: "operation was interrupted",
			}),
		)

		repo, err := NewCacheRepository(mt.DB, config.CacheStorageInline)
		require.NoError(mt, err)

		content, err := repo.GetContent(context.Background(), "abc123")
		require.NoError(mt, err)
		assert.Equal(mt, body, content)
	})

	mt.Run("absent entry", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "blocklist.cache", mtest.FirstBatch))

		repo, err := NewCacheRepository(mt.DB, config.CacheStorageInline)
		require.NoError(mt, err)

		content, err := repo.GetContent(context.Background(), "missing")
		require.NoError(mt, err)
		assert.Nil(mt, content)
	})
}

func TestGetDomainCount(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("stored count", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "blocklist.cache", mtest.FirstBatch, bson.D{
			{Key: "url_hash", Value: "abc123"},
			{Key: "stats", Value: bson.D{{Key: "domain_count", Value: int64(42)}}},
		}))

		repo, err := NewCacheRepository(mt.DB, config.CacheStorageInline)
		require.NoError(mt, err)

		count, err := repo.GetDomainCount(context.Background(), "abc123")
		require.NoError(mt, err)
		require.NotNil(mt, count)
		assert.Equal(mt, int64(42), *count)
	})

	mt.Run("absent entry", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "blocklist.cache", mtest.FirstBatch))

		repo, err := NewCacheRepository(mt.DB, config.CacheStorageInline)
		require.NoError(mt, err)

		count, err := repo.GetDomainCount(context.Background(), "missing")
		require.NoError(mt, err)
		assert.Nil(mt, count)
	})
}
