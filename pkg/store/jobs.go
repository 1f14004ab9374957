package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/listforge/listforge/pkg/types"
)

// JobRepository performs queue operations on behalf of one worker. All
// ownership-conditioned updates (heartbeat, release) use this worker's id.
type JobRepository struct {
	collection *mongo.Collection
	workerID   string
}

// NewJobRepository creates a job repository bound to a worker id
func NewJobRepository(db *mongo.Database, workerID string) *JobRepository {
	return &JobRepository{
		collection: db.Collection("jobs"),
		workerID:   workerID,
	}
}

// ClaimNext atomically claims the highest-priority queued job. Returns nil
// without error when the queue is empty; a racing loser also sees nil.
func (r *JobRepository) ClaimNext(ctx context.Context) (*types.Job, error) {
	now := time.Now().UTC()

	filter := bson.M{
		"status":    types.JobStatusQueued,
		"worker_id": nil,
	}
	update := bson.M{
		"$set": bson.M{
			"status":       types.JobStatusProcessing,
			"worker_id":    r.workerID,
			"claimed_at":   now,
			"heartbeat_at": now,
			"started_at":   now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "priority", Value: 1}, {Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)

	var job types.Job
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return &job, nil
}

// Heartbeat refreshes the heartbeat timestamp on a job this worker owns.
// Returns false when no owned processing job matched, meaning the job was
// reclaimed and the worker must abort further work on it.
func (r *JobRepository) Heartbeat(ctx context.Context, jobID string) (bool, error) {
	now := time.Now().UTC()

	result, err := r.collection.UpdateOne(ctx,
		bson.M{
			"job_id":    jobID,
			"worker_id": r.workerID,
			"status":    types.JobStatusProcessing,
		},
		bson.M{"$set": bson.M{"heartbeat_at": now}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to send heartbeat: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

// UpdateProgress writes the progress sub-document
func (r *JobRepository) UpdateProgress(ctx context.Context, id primitive.ObjectID, progress *types.JobProgress) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"progress": progress}},
	)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// Complete marks a job completed with its result. Terminal.
func (r *JobRepository) Complete(ctx context.Context, id primitive.ObjectID, result *types.JobResult) error {
	return r.finish(ctx, id, types.JobStatusCompleted, result)
}

// Fail marks a job failed with the given error strings. Terminal.
func (r *JobRepository) Fail(ctx context.Context, id primitive.ObjectID, errs []string) error {
	return r.finish(ctx, id, types.JobStatusFailed, types.FailureResult(errs))
}

// Skip marks a job skipped with a reason. Terminal.
func (r *JobRepository) Skip(ctx context.Context, id primitive.ObjectID, reason string) error {
	return r.finish(ctx, id, types.JobStatusSkipped, types.SkippedResult(reason))
}

func (r *JobRepository) finish(ctx context.Context, id primitive.ObjectID, status types.JobStatus, result *types.JobResult) error {
	now := time.Now().UTC()

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"status":       status,
			"completed_at": now,
			"result":       result,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark job %s: %w", status, err)
	}
	return nil
}

// Release puts a job this worker owns back in the queue, clearing ownership
// and claim timestamps. Used on graceful shutdown only.
func (r *JobRepository) Release(ctx context.Context, jobID string) (bool, error) {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{
			"job_id":    jobID,
			"worker_id": r.workerID,
			"status":    types.JobStatusProcessing,
		},
		releaseUpdate(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to release job: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

// ReleaseAll releases every job this worker still holds. Shutdown sweep.
func (r *JobRepository) ReleaseAll(ctx context.Context) (int64, error) {
	result, err := r.collection.UpdateMany(ctx,
		bson.M{
			"worker_id": r.workerID,
			"status":    types.JobStatusProcessing,
		},
		releaseUpdate(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release jobs: %w", err)
	}
	return result.ModifiedCount, nil
}

func releaseUpdate() bson.M {
	return bson.M{"$set": bson.M{
		"status":       types.JobStatusQueued,
		"worker_id":    nil,
		"claimed_at":   nil,
		"heartbeat_at": nil,
		"started_at":   nil,
	}}
}

// LastCompletedResult returns the result of a tenant's most recent completed
// build, or nil when there is none. The copy-skip flow reuses these stats.
func (r *JobRepository) LastCompletedResult(ctx context.Context, username string) (*types.JobResult, error) {
	filter := bson.M{
		"username": username,
		"status":   types.JobStatusCompleted,
		"result":   bson.M{"$exists": true, "$ne": nil},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "completed_at", Value: -1}})

	var job types.Job
	err := r.collection.FindOne(ctx, filter, opts).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last completed result: %w", err)
	}
	return job.Result, nil
}
