package factorgate

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func factorTestConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("test-secret-0123456789abcdef")
	return cfg
}

func allRecipes() []Recipe {
	return []Recipe{
		{ID: RecipeEmailPassword},
		{ID: RecipeThirdParty},
		{ID: RecipePasswordless, ContactMethod: ContactEmailOrPhone, FlowType: FlowUserInputCodeAndMagicLink},
		{ID: RecipeTOTP},
	}
}

func alwaysLinkPolicy(requireVerification bool) LinkingPolicy {
	return func(context.Context, LoginMethod, *User, string) (LinkingDecision, error) {
		return LinkingDecision{ShouldAutomaticallyLink: true, ShouldRequireVerification: requireVerification}, nil
	}
}

// memoryUserProvider is an in-memory UserProvider with the same observable
// contract a real database-backed implementation would have. failLinks arms
// a failure for the next n LinkAccounts or MakePrimaryUser calls.
type memoryUserProvider struct {
	mu       sync.Mutex
	users    map[string]*User
	owner    map[string]string // recipeUserID -> userID
	tenant   map[string]string // userID -> tenantID
	required  map[string][]FactorID
	linkErr   error
	linkFails int
}

func newMemoryUserProvider() *memoryUserProvider {
	return &memoryUserProvider{
		users:    make(map[string]*User),
		owner:    make(map[string]string),
		tenant:   make(map[string]string),
		required: make(map[string][]FactorID),
	}
}

func (p *memoryUserProvider) failNextLink(err error) {
	p.failLinks(1, err)
}

func (p *memoryUserProvider) failLinks(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.linkErr = err
	p.linkFails = n
}

func (p *memoryUserProvider) consumeLinkErr() error {
	if p.linkFails == 0 {
		return nil
	}
	p.linkFails--
	return p.linkErr
}

func (p *memoryUserProvider) userCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.users)
}

func cloneUser(u *User) User {
	out := *u
	out.LoginMethods = append([]LoginMethod(nil), u.LoginMethods...)
	return out
}

func (p *memoryUserProvider) GetUserByID(_ context.Context, userID string) (User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (p *memoryUserProvider) GetUserByRecipeUserID(_ context.Context, recipeUserID string) (User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	userID, ok := p.owner[recipeUserID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return cloneUser(p.users[userID]), nil
}

func (p *memoryUserProvider) ListUsersByAccountInfo(_ context.Context, tenantID string, info AccountInfo) ([]User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []User
	for id, u := range p.users {
		if p.tenant[id] != tenantID {
			continue
		}
		for _, lm := range u.LoginMethods {
			if matchesAccountInfo(lm, info) {
				out = append(out, cloneUser(u))
				break
			}
		}
	}
	return out, nil
}

func matchesAccountInfo(lm LoginMethod, info AccountInfo) bool {
	if info.Email != "" && lm.Email == info.Email {
		return true
	}
	if info.PhoneNumber != "" && lm.PhoneNumber == info.PhoneNumber {
		return true
	}
	if info.ThirdParty != nil && lm.ThirdParty != nil &&
		lm.ThirdParty.ProviderID == info.ThirdParty.ProviderID &&
		lm.ThirdParty.UserID == info.ThirdParty.UserID {
		return true
	}
	return false
}

func (p *memoryUserProvider) CreateRecipeUser(_ context.Context, tenantID string, method LoginMethod) (User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.owner[method.RecipeUserID]; exists {
		return User{}, ErrLinkConflict
	}

	u := &User{ID: uuid.NewString(), LoginMethods: []LoginMethod{method}}
	p.users[u.ID] = u
	p.owner[method.RecipeUserID] = u.ID
	p.tenant[u.ID] = tenantID
	return cloneUser(u), nil
}

func (p *memoryUserProvider) MakePrimaryUser(_ context.Context, userID string) (User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.consumeLinkErr(); err != nil {
		return User{}, err
	}
	u, ok := p.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	u.IsPrimaryUser = true
	return cloneUser(u), nil
}

func (p *memoryUserProvider) LinkAccounts(_ context.Context, recipeUserID, primaryUserID string) (User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.consumeLinkErr(); err != nil {
		return User{}, err
	}

	ownerID, ok := p.owner[recipeUserID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	primary, ok := p.users[primaryUserID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	if ownerID == primaryUserID {
		primary.IsPrimaryUser = true
		return cloneUser(primary), nil
	}

	owner := p.users[ownerID]
	if owner.IsPrimaryUser {
		return User{}, ErrLinkConflict
	}

	primary.IsPrimaryUser = true
	primary.LoginMethods = append(primary.LoginMethods, owner.LoginMethods...)
	for _, lm := range owner.LoginMethods {
		p.owner[lm.RecipeUserID] = primaryUserID
	}
	delete(p.users, ownerID)
	delete(p.tenant, ownerID)
	return cloneUser(primary), nil
}

func (p *memoryUserProvider) UnlinkAccount(_ context.Context, recipeUserID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	userID, ok := p.owner[recipeUserID]
	if !ok {
		return ErrUserNotFound
	}
	u := p.users[userID]
	if len(u.LoginMethods) <= 1 {
		return nil
	}

	var detached *LoginMethod
	kept := u.LoginMethods[:0]
	for i := range u.LoginMethods {
		if u.LoginMethods[i].RecipeUserID == recipeUserID {
			lm := u.LoginMethods[i]
			detached = &lm
			continue
		}
		kept = append(kept, u.LoginMethods[i])
	}
	u.LoginMethods = kept

	fresh := &User{ID: uuid.NewString(), LoginMethods: []LoginMethod{*detached}}
	p.users[fresh.ID] = fresh
	p.owner[recipeUserID] = fresh.ID
	p.tenant[fresh.ID] = p.tenant[userID]
	return nil
}

func (p *memoryUserProvider) GetRequiredSecondaryFactors(_ context.Context, userID string) ([]FactorID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	return append([]FactorID(nil), p.required[userID]...), nil
}

func (p *memoryUserProvider) SetRequiredSecondaryFactors(_ context.Context, userID string, factors []FactorID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[userID]; !ok {
		return ErrUserNotFound
	}
	p.required[userID] = append([]FactorID(nil), factors...)
	return nil
}

type engineOption func(*Builder)

func withPolicy(policy LinkingPolicy) engineOption {
	return func(b *Builder) { b.WithLinkingPolicy(policy) }
}

func withOverride(override MFARequirementsOverride) engineOption {
	return func(b *Builder) { b.WithMFARequirementsOverride(override) }
}

func withRecipes(recipes []Recipe) engineOption {
	return func(b *Builder) { b.WithRecipes(recipes) }
}

func withAuditSink(sink AuditSink) engineOption {
	return func(b *Builder) { b.WithAuditSink(sink) }
}

func newFactorEngine(t *testing.T, cfg Config, up UserProvider, opts ...engineOption) (*Engine, *redis.Client, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)

	builder := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithRecipes(allRecipes()).
		WithUserProvider(up)
	for _, opt := range opts {
		opt(builder)
	}

	engine, err := builder.Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	return engine, rdb, func() {
		engine.Close()
		mr.Close()
	}
}

func emailMethod(email string, verified bool) LoginMethod {
	return LoginMethod{
		RecipeUserID: uuid.NewString(),
		RecipeID:     RecipeEmailPassword,
		Email:        email,
		Verified:     verified,
	}
}

func signInFirstFactor(t *testing.T, engine *Engine, tenantID string, factor FactorID, method LoginMethod) SignInUpResult {
	t.Helper()

	result, err := engine.SignInUp(context.Background(), SignInUpInput{
		TenantID: tenantID,
		Factor:   factor,
		Method:   method,
	})
	if err != nil {
		t.Fatalf("SignInUp failed: %v", err)
	}
	if result.Status != StatusOK {
		t.Fatalf("expected OK sign in, got %s", result.Status)
	}
	return result
}
