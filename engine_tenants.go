package factorgate

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Tenant IDs that can never be created. "public" is not listed: it always
// exists, so creating it is an already-exists outcome, not a validation one.
var reservedTenantIDs = map[string]struct{}{
	"recipe": {},
}

// CreateTenantResult defines a public type used by factorgate APIs.
//
// CreateTenantResult instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CreateTenantResult struct {
	Status Status
}

// GetTenantResult defines a public type used by factorgate APIs.
//
// GetTenantResult instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type GetTenantResult struct {
	Status Status
	Tenant *TenantConfig
}

// UpdateTenantResult defines a public type used by factorgate APIs.
//
// UpdateTenantResult instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type UpdateTenantResult struct {
	Status Status
	Tenant *TenantConfig
}

// DeleteTenantResult defines a public type used by factorgate APIs.
//
// DeleteTenantResult instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type DeleteTenantResult struct {
	Status   Status
	DidExist bool
}

// UpdateTenantCoreConfigResult defines a public type used by factorgate APIs.
//
// UpdateTenantCoreConfigResult instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type UpdateTenantCoreConfigResult struct {
	Status Status
}

func validTenantID(tenantID string, maxLen int) bool {
	if tenantID == "" || len(tenantID) > maxLen {
		return false
	}
	if _, reserved := reservedTenantIDs[tenantID]; reserved {
		return false
	}
	for _, r := range tenantID {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return true
}

func defaultTenantConfig(tenantID string, now int64) *TenantConfig {
	core := make(map[string]int64, len(coreConfigDefaults))
	for key, value := range coreConfigDefaults {
		core[key] = value
	}
	return &TenantConfig{
		TenantID:   tenantID,
		CoreConfig: core,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// getOrMaterializeTenant loads a tenant config. The public tenant is
// materialized with defaults on first read so it always exists.
func (e *Engine) getOrMaterializeTenant(ctx context.Context, tenantID string) (*TenantConfig, error) {
	cfg, err := e.tenantStore.Get(ctx, tenantID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, errTenantNotFound) {
		return nil, err
	}
	if tenantID != PublicTenantID {
		return nil, errTenantNotFound
	}

	cfg = defaultTenantConfig(PublicTenantID, time.Now().Unix())
	if createErr := e.tenantStore.Create(ctx, cfg); createErr != nil && !errors.Is(createErr, errTenantExists) {
		return nil, createErr
	}
	// Another caller may have materialized it first; read back either way.
	return e.tenantStore.Get(ctx, PublicTenantID)
}

// CreateTenant creates a new tenant namespace. Validation failures and
// already-exists are named statuses; only store failures surface as errors.
func (e *Engine) CreateTenant(ctx context.Context, input TenantConfig) (CreateTenantResult, error) {
	if e == nil || e.tenantStore == nil {
		return CreateTenantResult{}, ErrEngineNotReady
	}

	if !validTenantID(input.TenantID, e.config.Tenant.MaxTenantIDLength) {
		e.metricInc(MetricTenantConfigRejected)
		e.emitAudit(ctx, auditEventTenantCreated, false, "", input.TenantID, "", "", nil, func() map[string]string {
			return map[string]string{"reason": "invalid_tenant_id"}
		})
		return CreateTenantResult{Status: StatusInvalidTenantID}, nil
	}

	if input.TenantID == PublicTenantID {
		// public always exists; creating it is a duplicate, never a create.
		if _, err := e.getOrMaterializeTenant(ctx, PublicTenantID); err != nil {
			return CreateTenantResult{}, err
		}
		return CreateTenantResult{Status: StatusTenantIDAlreadyExists}, nil
	}

	now := time.Now().Unix()
	cfg := defaultTenantConfig(input.TenantID, now)
	cfg.FirstFactors = input.FirstFactors
	cfg.RequiredSecondaryFactors = input.RequiredSecondaryFactors
	for key, value := range input.CoreConfig {
		if _, known := coreConfigDefaults[key]; known {
			cfg.CoreConfig[key] = value
		}
	}

	if err := e.tenantStore.Create(ctx, cfg); err != nil {
		if errors.Is(err, errTenantExists) {
			return CreateTenantResult{Status: StatusTenantIDAlreadyExists}, nil
		}
		return CreateTenantResult{}, err
	}

	e.metricInc(MetricTenantCreated)
	e.emitAudit(ctx, auditEventTenantCreated, true, "", input.TenantID, "", "", nil, nil)

	return CreateTenantResult{Status: StatusOK}, nil
}

// UpdateTenant replaces the factor policy of an existing tenant. Core
// config keys are not touched here; use [Engine.UpdateTenantCoreConfig].
func (e *Engine) UpdateTenant(ctx context.Context, input TenantConfig) (UpdateTenantResult, error) {
	if e == nil || e.tenantStore == nil {
		return UpdateTenantResult{}, ErrEngineNotReady
	}

	current, err := e.getOrMaterializeTenant(ctx, input.TenantID)
	if err != nil {
		if errors.Is(err, errTenantNotFound) {
			return UpdateTenantResult{Status: StatusUnknownTenant}, nil
		}
		return UpdateTenantResult{}, err
	}

	current.FirstFactors = input.FirstFactors
	current.RequiredSecondaryFactors = input.RequiredSecondaryFactors
	current.UpdatedAt = time.Now().Unix()

	if err := e.tenantStore.Save(ctx, current); err != nil {
		return UpdateTenantResult{}, err
	}

	e.metricInc(MetricTenantUpdated)
	e.emitAudit(ctx, auditEventTenantUpdated, true, "", input.TenantID, "", "", nil, nil)

	return UpdateTenantResult{Status: StatusOK, Tenant: current}, nil
}

// GetTenant describes the gettenant operation and its observable behavior.
//
// GetTenant may return an error when input validation, dependency calls, or security checks fail.
// GetTenant does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) GetTenant(ctx context.Context, tenantID string) (GetTenantResult, error) {
	if e == nil || e.tenantStore == nil {
		return GetTenantResult{}, ErrEngineNotReady
	}

	cfg, err := e.getOrMaterializeTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, errTenantNotFound) {
			return GetTenantResult{Status: StatusUnknownTenant}, nil
		}
		return GetTenantResult{}, err
	}

	return GetTenantResult{Status: StatusOK, Tenant: cfg}, nil
}

// ListTenants returns every tenant config, the public tenant included.
func (e *Engine) ListTenants(ctx context.Context) ([]*TenantConfig, error) {
	if e == nil || e.tenantStore == nil {
		return nil, ErrEngineNotReady
	}

	if _, err := e.getOrMaterializeTenant(ctx, PublicTenantID); err != nil {
		return nil, err
	}

	return e.tenantStore.List(ctx)
}

// DeleteTenant removes a tenant namespace. The public tenant can never be
// deleted; the denial is a stable status regardless of call count or prior
// state.
func (e *Engine) DeleteTenant(ctx context.Context, tenantID string) (DeleteTenantResult, error) {
	if e == nil || e.tenantStore == nil {
		return DeleteTenantResult{}, ErrEngineNotReady
	}

	if tenantID == PublicTenantID {
		e.metricInc(MetricTenantDeleteDenied)
		e.emitAudit(ctx, auditEventTenantDeleteDenied, false, "", tenantID, "", "", nil, nil)
		return DeleteTenantResult{Status: StatusCannotDeletePublicTenant}, nil
	}

	didExist, err := e.tenantStore.Delete(ctx, tenantID)
	if err != nil {
		return DeleteTenantResult{}, err
	}

	if didExist {
		e.metricInc(MetricTenantDeleted)
		e.emitAudit(ctx, auditEventTenantDeleted, true, "", tenantID, "", "", nil, nil)
	}

	return DeleteTenantResult{Status: StatusOK, DidExist: didExist}, nil
}

// UpdateTenantCoreConfig patches one typed core-config key. A value of the
// wrong JSON type yields INVALID_CONFIG_ERROR and resets the stored value
// to its default; the patch is never partially applied.
func (e *Engine) UpdateTenantCoreConfig(ctx context.Context, tenantID, key string, value any) (UpdateTenantCoreConfigResult, error) {
	if e == nil || e.tenantStore == nil {
		return UpdateTenantCoreConfigResult{}, ErrEngineNotReady
	}

	cfg, err := e.getOrMaterializeTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, errTenantNotFound) {
			return UpdateTenantCoreConfigResult{Status: StatusUnknownTenant}, nil
		}
		return UpdateTenantCoreConfigResult{}, err
	}

	defaultValue, known := coreConfigDefaults[key]
	if !known {
		e.metricInc(MetricTenantConfigRejected)
		e.emitAudit(ctx, auditEventTenantConfigRejected, false, "", tenantID, "", "", nil, func() map[string]string {
			return map[string]string{"key": key, "reason": "unknown_key"}
		})
		return UpdateTenantCoreConfigResult{Status: StatusInvalidConfig}, nil
	}

	parsed, ok := coerceCoreConfigValue(value)
	if cfg.CoreConfig == nil {
		cfg.CoreConfig = map[string]int64{}
	}
	if !ok {
		// Reject AND reset: a bad patch must leave the key at its default,
		// not at whatever value it had before.
		cfg.CoreConfig[key] = defaultValue
		cfg.UpdatedAt = time.Now().Unix()
		if err := e.tenantStore.Save(ctx, cfg); err != nil {
			return UpdateTenantCoreConfigResult{}, err
		}
		e.metricInc(MetricTenantConfigRejected)
		e.emitAudit(ctx, auditEventTenantConfigRejected, false, "", tenantID, "", "", nil, func() map[string]string {
			return map[string]string{"key": key, "reason": "invalid_type"}
		})
		return UpdateTenantCoreConfigResult{Status: StatusInvalidConfig}, nil
	}

	cfg.CoreConfig[key] = parsed
	cfg.UpdatedAt = time.Now().Unix()
	if err := e.tenantStore.Save(ctx, cfg); err != nil {
		return UpdateTenantCoreConfigResult{}, err
	}

	e.emitAudit(ctx, auditEventTenantConfigUpdated, true, "", tenantID, "", "", nil, func() map[string]string {
		return map[string]string{"key": key}
	})

	return UpdateTenantCoreConfigResult{Status: StatusOK}, nil
}

// coerceCoreConfigValue accepts the integer shapes JSON decoding can
// produce. Booleans, strings, and fractional floats are rejected.
func coerceCoreConfigValue(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
