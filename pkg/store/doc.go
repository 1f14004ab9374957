/*
Package store implements the MongoDB repositories behind the Listforge
worker: the job queue, the content cache, and tenant configuration and build
stats.

# Collections

  - jobs: the shared work queue. Workers coordinate exclusively through the
    atomic claim operation; a job in status processing is owned by exactly
    one worker until it reaches a terminal status or is released.
  - cache: fetched source bodies keyed by SHA-256 of the URL, with download
    and access counters. Content is stored inline or in a GridFS bucket
    (cache_content) depending on configuration.
  - users: per-tenant blocklist/whitelist config, list metadata and build
    stats.
  - system_config: the default_config and default_build records for the
    reserved __default__ tenant.

# Claim protocol

ClaimNext is a single findAndModify: filter status=queued AND worker_id=null,
set processing/worker_id/claim timestamps, sorted by (priority asc,
created_at asc), returning the post-image. Two racing workers see exactly one
winner; the loser gets no document and no error.

Heartbeat updates are conditioned on ownership (job_id, worker_id, status
processing); a false return means the job was taken away and the worker must
stop working on it. Stale-job recovery is an external process: it may force a
job whose heartbeat has aged past at least three heartbeat intervals back to
queued, after which the previous owner's next heartbeat fails.

All database errors propagate to callers; nothing here is swallowed.
*/
package store
