package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/listforge/listforge/pkg/config"
	"github.com/listforge/listforge/pkg/types"
)

// Well-known system_config record ids
const (
	defaultConfigID = "default_config"
	defaultBuildID  = "default_build"
)

type tenantDoc struct {
	Username string                `bson:"username"`
	Config   *types.TenantConfig   `bson:"config,omitempty"`
	Lists    []types.ListMetadata  `bson:"lists,omitempty"`
	Stats    *types.TenantStats    `bson:"stats,omitempty"`
}

type defaultConfigDoc struct {
	Blocklists *string `bson:"blocklists,omitempty"`
	Whitelist  *string `bson:"whitelist,omitempty"`
}

type defaultBuildDoc struct {
	ConfigHash           *string    `bson:"config_hash,omitempty"`
	ConfigFingerprint    *string    `bson:"config_fingerprint,omitempty"`
	TotalDomains         *int64     `bson:"total_domains,omitempty"`
	TotalOutputSizeBytes *int64     `bson:"total_output_size_bytes,omitempty"`
	LastBuildAt          *time.Time `bson:"last_build_at,omitempty"`
}

// TenantRepository reads tenant configuration and writes build stats. The
// reserved __default__ tenant lives in system_config; everything else lives
// on the tenant's user record.
type TenantRepository struct {
	users        *mongo.Collection
	systemConfig *mongo.Collection
}

// NewTenantRepository creates a tenant repository
func NewTenantRepository(db *mongo.Database) *TenantRepository {
	return &TenantRepository{
		users:        db.Collection("users"),
		systemConfig: db.Collection("system_config"),
	}
}

// GetBlocklists returns the blocklist config text for a tenant
func (r *TenantRepository) GetBlocklists(ctx context.Context, username string) (string, error) {
	cfg, err := r.getConfig(ctx, username)
	if err != nil {
		return "", err
	}
	if cfg.Blocklists == nil {
		return "", fmt.Errorf("no blocklist config found for %s", username)
	}
	return *cfg.Blocklists, nil
}

// GetWhitelist returns the whitelist text for a tenant, empty when unset
func (r *TenantRepository) GetWhitelist(ctx context.Context, username string) (string, error) {
	cfg, err := r.getConfig(ctx, username)
	if err != nil {
		return "", err
	}
	if cfg.Whitelist == nil {
		return "", nil
	}
	return *cfg.Whitelist, nil
}

func (r *TenantRepository) getConfig(ctx context.Context, username string) (*types.TenantConfig, error) {
	if username == config.DefaultTenant {
		var doc defaultConfigDoc
		err := r.systemConfig.FindOne(ctx, bson.M{"_id": defaultConfigID}).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("default config not found in system_config")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load default config: %w", err)
		}
		return &types.TenantConfig{Blocklists: doc.Blocklists, Whitelist: doc.Whitelist}, nil
	}

	var doc tenantDoc
	err := r.users.FindOne(ctx, bson.M{"username": username}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("user not found: %s", username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config for %s: %w", username, err)
	}
	if doc.Config == nil {
		return nil, fmt.Errorf("no config found for user: %s", username)
	}
	return doc.Config, nil
}

// GetConfigHash returns the stored config hash for a tenant, nil when the
// tenant has never built
func (r *TenantRepository) GetConfigHash(ctx context.Context, username string) (*string, error) {
	if username == config.DefaultTenant {
		var doc defaultBuildDoc
		err := r.systemConfig.FindOne(ctx, bson.M{"_id": defaultBuildID}).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load default build record: %w", err)
		}
		return doc.ConfigHash, nil
	}

	var doc tenantDoc
	err := r.users.FindOne(ctx, bson.M{"username": username}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load stats for %s: %w", username, err)
	}
	if doc.Stats == nil {
		return nil, nil
	}
	return doc.Stats.ConfigHash, nil
}

// UpdateAfterBuild writes list metadata, totals, config hash and fingerprint
// atomically with the last_build_at stamp
func (r *TenantRepository) UpdateAfterBuild(ctx context.Context, username string, lists []types.ListMetadata, totalDomains, totalOutputSize int64, configHash, configFingerprint string) error {
	now := time.Now().UTC()

	if username == config.DefaultTenant {
		_, err := r.systemConfig.UpdateOne(ctx,
			bson.M{"_id": defaultBuildID},
			bson.M{"$set": bson.M{
				"config_hash":             configHash,
				"config_fingerprint":      configFingerprint,
				"total_domains":           totalDomains,
				"total_output_size_bytes": totalOutputSize,
				"last_build_at":           now,
			}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("failed to update default build record: %w", err)
		}
		return nil
	}

	_, err := r.users.UpdateOne(ctx,
		bson.M{"username": username},
		bson.M{"$set": bson.M{
			"lists":                         lists,
			"stats.total_domains":           totalDomains,
			"stats.total_output_size_bytes": totalOutputSize,
			"stats.last_build_at":           now,
			"stats.config_hash":             configHash,
			"stats.config_fingerprint":      configFingerprint,
			"updated_at":                    now,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update user document for %s: %w", username, err)
	}
	return nil
}

// FindByFingerprint looks for a donor tenant whose config fingerprint
// matches: the __default__ build first (unless excluded), then enabled
// tenants with output lists, most recent build first. Returns nil when
// nothing matches.
func (r *TenantRepository) FindByFingerprint(ctx context.Context, fingerprint, excludeUsername string) (*types.MatchedTenant, error) {
	if excludeUsername != config.DefaultTenant {
		var doc defaultBuildDoc
		err := r.systemConfig.FindOne(ctx, bson.M{"_id": defaultBuildID}).Decode(&doc)
		if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("failed to load default build record: %w", err)
		}
		if err == nil && doc.ConfigFingerprint != nil && *doc.ConfigFingerprint == fingerprint {
			matched := &types.MatchedTenant{Username: config.DefaultTenant}
			if doc.TotalDomains != nil {
				matched.TotalDomains = *doc.TotalDomains
			}
			if doc.TotalOutputSizeBytes != nil {
				matched.TotalOutputSize = *doc.TotalOutputSizeBytes
			}
			return matched, nil
		}
	}

	filter := bson.M{
		"stats.config_fingerprint": fingerprint,
		"username":                 bson.M{"$ne": excludeUsername},
		"lists":                    bson.M{"$exists": true, "$not": bson.M{"$size": 0}},
		"stats.last_build_at":      bson.M{"$exists": true},
		"is_enabled":               true,
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "stats.last_build_at", Value: -1}})

	var doc tenantDoc
	err := r.users.FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search by fingerprint: %w", err)
	}

	matched := &types.MatchedTenant{
		Username: doc.Username,
		Lists:    doc.Lists,
	}
	if doc.Stats != nil {
		if doc.Stats.TotalDomains != nil {
			matched.TotalDomains = *doc.Stats.TotalDomains
		}
		if doc.Stats.TotalOutputSizeBytes != nil {
			matched.TotalOutputSize = *doc.Stats.TotalOutputSizeBytes
		}
	}
	return matched, nil
}
