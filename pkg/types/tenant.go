package types

import "time"

// ListMetadata describes one generated list on a tenant record
type ListMetadata struct {
	Name        string    `bson:"name"`
	IsPublic    bool      `bson:"is_public"`
	Formats     []string  `bson:"formats"`
	DomainCount int64     `bson:"domain_count"`
	LastUpdated time.Time `bson:"last_updated"`
}

// TenantStats is the build-stats sub-document on a tenant record.
// ConfigHash and ConfigFingerprint are written atomically with LastBuildAt.
type TenantStats struct {
	TotalDomains         *int64     `bson:"total_domains,omitempty"`
	TotalOutputSizeBytes *int64     `bson:"total_output_size_bytes,omitempty"`
	LastBuildAt          *time.Time `bson:"last_build_at,omitempty"`
	ConfigHash           *string    `bson:"config_hash,omitempty"`
	ConfigFingerprint    *string    `bson:"config_fingerprint,omitempty"`
}

// TenantConfig is the blocklist/whitelist configuration for one tenant
type TenantConfig struct {
	Blocklists *string `bson:"blocklists,omitempty"`
	Whitelist  *string `bson:"whitelist,omitempty"`
}

// MatchedTenant is the donor found by a config-fingerprint lookup
type MatchedTenant struct {
	Username        string
	Lists           []ListMetadata
	TotalDomains    int64
	TotalOutputSize int64
}
