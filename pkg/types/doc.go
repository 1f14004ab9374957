/*
Package types defines the shared data model for the Listforge worker.

The documents here mirror what the rest of the platform reads from MongoDB:
jobs with their progress and result sub-documents, cache entries for fetched
source bodies, and per-tenant list metadata and build stats. The worker is
one of many processes reading and writing these collections, so field names
are part of the external contract and must not change casually.
*/
package types
