package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/listforge/listforge/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

// firstUpdate unwraps the single statement of an update command
func firstUpdate(t *testing.T, cmd bson.Raw) bson.Raw {
	t.Helper()
	elem := cmd.Lookup("updates").Array().Index(0)
	return elem.Value().Document()
}

func TestClaimNext(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("winner receives the claimed job", func(mt *mtest.T) {
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
			{Key: "_id", Value: id},
			{Key: "job_id", Value: "job-1"},
			{Key: "username", Value: "alice"},
			{Key: "status", Value: "processing"},
			{Key: "priority", Value: int32(5)},
			{Key: "worker_id", Value: "worker-1"},
			{Key: "created_at", Value: time.Now().UTC()},
		}}))

		repo := NewJobRepository(mt.DB, "worker-1")
		job, err := repo.ClaimNext(context.Background())
		require.NoError(mt, err)
		require.NotNil(mt, job)
		assert.Equal(mt, id, job.ID)
		assert.Equal(mt, "job-1", job.JobID)
		require.NotNil(mt, job.WorkerID)
		assert.Equal(mt, "worker-1", *job.WorkerID)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, "findAndModify", evt.CommandName)

		// Only unowned queued jobs are eligible
		query := evt.Command.Lookup("query").Document()
		assert.Equal(mt, "queued", query.Lookup("status").StringValue())
		assert.Equal(mt, bsontype.Null, query.Lookup("worker_id").Type)

		// Highest priority first, oldest first within a priority
		sortDoc := evt.Command.Lookup("sort").Document()
		assert.Equal(mt, int32(1), sortDoc.Lookup("priority").Int32())
		assert.Equal(mt, int32(1), sortDoc.Lookup("created_at").Int32())

		// The post-image carries the ownership fields back to the caller
		assert.True(mt, evt.Command.Lookup("new").Boolean())
		set := evt.Command.Lookup("update").Document().Lookup("$set").Document()
		assert.Equal(mt, "processing", set.Lookup("status").StringValue())
		assert.Equal(mt, "worker-1", set.Lookup("worker_id").StringValue())
		assert.Equal(mt, bsontype.DateTime, set.Lookup("claimed_at").Type)
		assert.Equal(mt, bsontype.DateTime, set.Lookup("heartbeat_at").Type)
		assert.Equal(mt, bsontype.DateTime, set.Lookup("started_at").Type)
	})

	mt.Run("loser sees no job and no error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}))

		repo := NewJobRepository(mt.DB, "worker-2")
		job, err := repo.ClaimNext(context.Background())
		require.NoError(mt, err)
		assert.Nil(mt, job)
	})
}

func TestHeartbeat(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("refreshes an owned job", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		repo := NewJobRepository(mt.DB, "worker-1")
		ok, err := repo.Heartbeat(context.Background(), "job-1")
		require.NoError(mt, err)
		assert.True(mt, ok)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, "update", evt.CommandName)

		update := firstUpdate(mt.T, evt.Command)
		q := update.Lookup("q").Document()
		assert.Equal(mt, "job-1", q.Lookup("job_id").StringValue())
		assert.Equal(mt, "worker-1", q.Lookup("worker_id").StringValue())
		assert.Equal(mt, "processing", q.Lookup("status").StringValue())
		set := update.Lookup("u").Document().Lookup("$set").Document()
		assert.Equal(mt, bsontype.DateTime, set.Lookup("heartbeat_at").Type)
	})

	mt.Run("returns false when ownership was lost", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))

		repo := NewJobRepository(mt.DB, "worker-1")
		ok, err := repo.Heartbeat(context.Background(), "job-1")
		require.NoError(mt, err)
		assert.False(mt, ok)
	})
}

func TestRelease(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("requeues an owned job", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		repo := NewJobRepository(mt.DB, "worker-1")
		ok, err := repo.Release(context.Background(), "job-1")
		require.NoError(mt, err)
		assert.True(mt, ok)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)

		update := firstUpdate(mt.T, evt.Command)
		q := update.Lookup("q").Document()
		assert.Equal(mt, "worker-1", q.Lookup("worker_id").StringValue())
		assert.Equal(mt, "processing", q.Lookup("status").StringValue())

		// Back to queued with every ownership field cleared
		set := update.Lookup("u").Document().Lookup("$set").Document()
		assert.Equal(mt, "queued", set.Lookup("status").StringValue())
		assert.Equal(mt, bsontype.Null, set.Lookup("worker_id").Type)
		assert.Equal(mt, bsontype.Null, set.Lookup("claimed_at").Type)
		assert.Equal(mt, bsontype.Null, set.Lookup("heartbeat_at").Type)
		assert.Equal(mt, bsontype.Null, set.Lookup("started_at").Type)
	})

	mt.Run("no-op for a job this worker does not own", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))

		repo := NewJobRepository(mt.DB, "worker-1")
		ok, err := repo.Release(context.Background(), "job-1")
		require.NoError(mt, err)
		assert.False(mt, ok)
	})
}

func TestReleaseAll(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("sweeps every owned job", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 2}, bson.E{Key: "nModified", Value: 2}))

		repo := NewJobRepository(mt.DB, "worker-1")
		released, err := repo.ReleaseAll(context.Background())
		require.NoError(mt, err)
		assert.Equal(mt, int64(2), released)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)

		update := firstUpdate(mt.T, evt.Command)
		q := update.Lookup("q").Document()
		assert.Equal(mt, "worker-1", q.Lookup("worker_id").StringValue())
		assert.Equal(mt, "processing", q.Lookup("status").StringValue())
		assert.True(mt, update.Lookup("multi").Boolean())
	})
}
