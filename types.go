package factorgate

import (
	"context"
)

// PublicTenantID is the reserved default tenant. It always exists and can
// never be deleted.
const PublicTenantID = "public"

// TenantConfig is the per-tenant factor and linking policy namespace.
//
// FirstFactors nil means "derive from initialized recipes"; an explicit
// (possibly empty) list is taken as-is and filtered against the recipes
// initialized in-process. RequiredSecondaryFactors is unioned with the
// per-user required set stored in user metadata when requirements are
// evaluated.
//
//	Docs: docs/tenants.md
type TenantConfig struct {
	TenantID                 string
	FirstFactors             []FactorID
	RequiredSecondaryFactors []FactorID
	CoreConfig               map[string]int64

	CreatedAt int64
	UpdatedAt int64
}

// ThirdPartyInfo identifies a third-party provider identity on a login
// method.
type ThirdPartyInfo struct {
	ProviderID string
	UserID     string
}

// LoginMethod is one recipe-user identity. It is owned by exactly one user
// at a time and re-parented only through an explicit link operation.
type LoginMethod struct {
	RecipeUserID string
	RecipeID     RecipeID
	Email        string
	PhoneNumber  string
	ThirdParty   *ThirdPartyInfo
	Verified     bool
	TimeJoined   int64
}

// User is the logical user: one or more login methods merged behind a single
// ID. A user becomes primary the first time a linking operation designates
// it as the link target; exactly one primary user exists per linked cluster.
type User struct {
	ID            string
	IsPrimaryUser bool
	LoginMethods  []LoginMethod
}

// HasLoginMethod reports whether the user owns the given recipe user.
func (u User) HasLoginMethod(recipeUserID string) bool {
	for _, lm := range u.LoginMethods {
		if lm.RecipeUserID == recipeUserID {
			return true
		}
	}
	return false
}

// AccountInfo is the contact identity used to find linking candidates.
type AccountInfo struct {
	Email       string
	PhoneNumber string
	ThirdParty  *ThirdPartyInfo
}

func accountInfoOf(lm LoginMethod) AccountInfo {
	return AccountInfo{
		Email:       lm.Email,
		PhoneNumber: lm.PhoneNumber,
		ThirdParty:  lm.ThirdParty,
	}
}

// UserProvider is the primary interface that callers must implement to
// integrate factorgate with their user database. It covers user and login
// method lookup, recipe-user creation, linking, and the per-user
// required-secondary-factors metadata.
//
// Not-found must surface as [ErrUserNotFound] and a link target conflict as
// [ErrLinkConflict]; the engine branches on both.
//
//	Docs: docs/engine.md, docs/usage.md
type UserProvider interface {
	GetUserByID(ctx context.Context, userID string) (User, error)
	GetUserByRecipeUserID(ctx context.Context, recipeUserID string) (User, error)
	ListUsersByAccountInfo(ctx context.Context, tenantID string, info AccountInfo) ([]User, error)
	CreateRecipeUser(ctx context.Context, tenantID string, method LoginMethod) (User, error)
	MakePrimaryUser(ctx context.Context, userID string) (User, error)
	LinkAccounts(ctx context.Context, recipeUserID, primaryUserID string) (User, error)
	UnlinkAccount(ctx context.Context, recipeUserID string) error
	GetRequiredSecondaryFactors(ctx context.Context, userID string) ([]FactorID, error)
	SetRequiredSecondaryFactors(ctx context.Context, userID string, factors []FactorID) error
}

// LinkingDecision is the outcome of the caller-supplied linking policy.
type LinkingDecision struct {
	ShouldAutomaticallyLink   bool
	ShouldRequireVerification bool
}

// LinkingPolicy is the shouldDoAutomaticAccountLinking strategy. It may
// consult arbitrary external state (it receives ctx for that reason); the
// engine applies its result consistently but never second-guesses it.
// sessionUser is nil for first-factor sign-ins.
type LinkingPolicy func(ctx context.Context, newMethod LoginMethod, sessionUser *User, tenantID string) (LinkingDecision, error)

// MFAFactorsInfo is the factors view of [MFAInfo].
type MFAFactorsInfo struct {
	Next           []FactorID
	AlreadySetup   []FactorID
	AllowedToSetup []FactorID
}

// MFAInfo is the requirement view consumed by recipe API layers before
// allowing an MFA-gated operation.
type MFAInfo struct {
	Factors      MFAFactorsInfo
	Emails       map[RecipeID][]string
	PhoneNumbers map[RecipeID][]string
}

// MFAOverrideInput is handed to the requirements override hook.
type MFAOverrideInput struct {
	User             User
	TenantID         string
	CompletedFactors map[FactorID]int64
	TenantRequired   []FactorID
	UserRequired     []FactorID
	AllowedToSetup   []FactorID
	UserContext      map[string]any
}

// MFARequirementsOverride replaces the entire "next required factors"
// computation for a single call when configured. Deterministic test
// scenarios use it to force a fixed requirement list.
type MFARequirementsOverride func(in MFAOverrideInput) []FactorID

// ComplianceState classifies the result of a session compliance check.
type ComplianceState uint8

const (
	// ComplianceCompliant is an exported constant or variable used by the factor engine.
	ComplianceCompliant ComplianceState = iota
	// ComplianceFactorsPending is an exported constant or variable used by the factor engine.
	ComplianceFactorsPending
)

// ComplianceResult reports whether a session satisfies the requirement set
// currently in force for its tenant and user. Pending factors are
// satisfiable but not yet completed: a normal challenge, retryable after the
// client completes a factor. Unsatisfiable factors never reach this struct;
// they surface as a fatal [UnsatisfiableFactorError] instead.
type ComplianceResult struct {
	State   ComplianceState
	Pending []FactorID
}
