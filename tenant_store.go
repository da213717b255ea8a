package factorgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const tenantRecordVersion1 = 1

var (
	errTenantNotFound = errors.New("tenant not found")
	errTenantExists   = errors.New("tenant already exists")
	errTenantBackend  = errors.New("tenant store backend unavailable")
)

type tenantRecord struct {
	V                        int              `json:"v"`
	TenantID                 string           `json:"tenant_id"`
	FirstFactors             []FactorID       `json:"first_factors"`
	HasFirstFactors          bool             `json:"has_first_factors"`
	RequiredSecondaryFactors []FactorID       `json:"required_secondary_factors,omitempty"`
	CoreConfig               map[string]int64 `json:"core_config,omitempty"`
	CreatedAt                int64            `json:"created_at"`
	UpdatedAt                int64            `json:"updated_at"`
}

type tenantStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newTenantStore(redisClient redis.UniversalClient, prefix string) *tenantStore {
	return &tenantStore{redis: redisClient, prefix: prefix}
}

func (s *tenantStore) key(tenantID string) string {
	return s.prefix + ":cfg:" + tenantID
}

func (s *tenantStore) indexKey() string {
	return s.prefix + ":ids"
}

// Create stores a tenant config only if the tenant does not exist yet.
// Returns errTenantExists otherwise; the two cases must stay distinguishable
// for the TENANT_ID_ALREADY_EXISTS_ERROR status.
func (s *tenantStore) Create(ctx context.Context, cfg *TenantConfig) error {
	encoded, err := encodeTenantRecord(cfg)
	if err != nil {
		return err
	}

	ok, err := s.redis.SetNX(ctx, s.key(cfg.TenantID), encoded, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errTenantBackend, err)
	}
	if !ok {
		return errTenantExists
	}
	if err := s.redis.SAdd(ctx, s.indexKey(), cfg.TenantID).Err(); err != nil {
		return fmt.Errorf("%w: %v", errTenantBackend, err)
	}
	return nil
}

// Save overwrites an existing tenant config.
func (s *tenantStore) Save(ctx context.Context, cfg *TenantConfig) error {
	encoded, err := encodeTenantRecord(cfg)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(cfg.TenantID), encoded, 0)
		pipe.SAdd(ctx, s.indexKey(), cfg.TenantID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errTenantBackend, err)
	}
	return nil
}

func (s *tenantStore) Get(ctx context.Context, tenantID string) (*TenantConfig, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errTenantNotFound
		}
		return nil, fmt.Errorf("%w: %v", errTenantBackend, err)
	}
	return decodeTenantRecord(data)
}

func (s *tenantStore) Delete(ctx context.Context, tenantID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(tenantID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errTenantBackend, err)
	}
	if err := s.redis.SRem(ctx, s.indexKey(), tenantID).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", errTenantBackend, err)
	}
	return n > 0, nil
}

func (s *tenantStore) List(ctx context.Context) ([]*TenantConfig, error) {
	ids, err := s.redis.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", errTenantBackend, err)
	}
	sort.Strings(ids)

	out := make([]*TenantConfig, 0, len(ids))
	for _, id := range ids {
		cfg, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, errTenantNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func encodeTenantRecord(cfg *TenantConfig) ([]byte, error) {
	rec := tenantRecord{
		V:                        tenantRecordVersion1,
		TenantID:                 cfg.TenantID,
		FirstFactors:             cfg.FirstFactors,
		HasFirstFactors:          cfg.FirstFactors != nil,
		RequiredSecondaryFactors: cfg.RequiredSecondaryFactors,
		CoreConfig:               cfg.CoreConfig,
		CreatedAt:                cfg.CreatedAt,
		UpdatedAt:                cfg.UpdatedAt,
	}
	return json.Marshal(rec)
}

func decodeTenantRecord(data []byte) (*TenantConfig, error) {
	var rec tenantRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: corrupt tenant record", errTenantBackend)
	}
	if rec.V != tenantRecordVersion1 || rec.TenantID == "" {
		return nil, fmt.Errorf("%w: corrupt tenant record", errTenantBackend)
	}

	cfg := &TenantConfig{
		TenantID:                 rec.TenantID,
		RequiredSecondaryFactors: rec.RequiredSecondaryFactors,
		CoreConfig:               rec.CoreConfig,
		CreatedAt:                rec.CreatedAt,
		UpdatedAt:                rec.UpdatedAt,
	}
	// nil and empty first-factor lists mean different things: nil derives
	// from initialized recipes, empty disables first factors outright.
	if rec.HasFirstFactors {
		cfg.FirstFactors = rec.FirstFactors
		if cfg.FirstFactors == nil {
			cfg.FirstFactors = []FactorID{}
		}
	}
	return cfg, nil
}
