package factorgate

import (
	"context"
	"errors"

	"github.com/factorgate/factorgate/jwt"
	"github.com/factorgate/factorgate/session"
	"github.com/redis/go-redis/v9"
)

// Builder defines a public type used by factorgate APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	recipes []Recipe

	userProvider  UserProvider
	linkingPolicy LinkingPolicy
	mfaOverride   MFARequirementsOverride
	auditSink     AuditSink

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis may return an error when input validation, dependency calls, or security checks fail.
// WithRedis does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRecipes sets the process-wide list of initialized factor-producing
// recipes. Order matters: nil-firstFactors tenants derive their first
// factors in this order.
func (b *Builder) WithRecipes(recipes []Recipe) *Builder {
	b.recipes = recipes
	return b
}

// WithUserProvider describes the withuserprovider operation and its observable behavior.
//
// WithUserProvider may return an error when input validation, dependency calls, or security checks fail.
// WithUserProvider does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithLinkingPolicy sets the shouldDoAutomaticAccountLinking strategy.
// When absent, the engine never links automatically.
func (b *Builder) WithLinkingPolicy(policy LinkingPolicy) *Builder {
	b.linkingPolicy = policy
	return b
}

// WithMFARequirementsOverride sets the hook that replaces the "next
// required factors" computation. Intended for deterministic test scenarios.
func (b *Builder) WithMFARequirementsOverride(override MFARequirementsOverride) *Builder {
	b.mfaOverride = override
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if len(b.recipes) == 0 {
		return nil, errors.New("recipes must be provided")
	}
	for _, r := range b.recipes {
		switch r.ID {
		case RecipeEmailPassword, RecipeThirdParty, RecipeTOTP:
		case RecipePasswordless:
			switch r.ContactMethod {
			case ContactEmail, ContactPhone, ContactEmailOrPhone:
			default:
				return nil, errors.New("passwordless recipe requires a contact method")
			}
			switch r.FlowType {
			case FlowUserInputCode, FlowMagicLink, FlowUserInputCodeAndMagicLink:
			default:
				return nil, errors.New("passwordless recipe requires a flow type")
			}
		default:
			return nil, errors.New("unknown recipe id")
		}
	}

	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	recipes := make([]Recipe, len(b.recipes))
	copy(recipes, b.recipes)

	policy := b.linkingPolicy
	if policy == nil {
		policy = func(context.Context, LoginMethod, *User, string) (LinkingDecision, error) {
			return LinkingDecision{}, nil
		}
	}

	engine := &Engine{
		config:        cfg,
		recipes:       recipes,
		tenantStore:   newTenantStore(b.redis, cfg.Tenant.RedisPrefix),
		sessionStore:  session.NewStore(b.redis, cfg.Session.RedisPrefix),
		linkStore:     newLinkReservationStore(b.redis, cfg.Linking),
		userProvider:  b.userProvider,
		linkingPolicy: policy,
		mfaOverride:   b.mfaOverride,
	}

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	b.built = true

	return engine, nil
}
