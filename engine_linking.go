package factorgate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/factorgate/factorgate/internal"
	"github.com/factorgate/factorgate/session"
	"github.com/redis/go-redis/v9"
)

// SignInUpInput carries one recipe-authenticated login method into the
// engine. The credential behind Method has already been accepted by its
// recipe; the engine only decides policy.
type SignInUpInput struct {
	TenantID string
	Factor   FactorID
	Method   LoginMethod

	// SessionHandle marks a factor completion inside an existing session.
	// Empty means a first-factor sign-in/up.
	SessionHandle string
}

// SignInUpResult defines a public type used by factorgate APIs.
//
// SignInUpResult instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SignInUpResult struct {
	Status         Status
	Reason         *LinkingRejection
	User           User
	CreatedNewUser bool
	SessionHandle  string
	AccessToken    string
}

// LinkDecision is the applied outcome of [Engine.DecideLinking]. When
// ShouldLink is true and PrimaryUserID is empty, the new login method's
// user becomes its own primary.
type LinkDecision struct {
	ShouldLink          bool
	RequireVerification bool
	PrimaryUserID       string
	Rejection           *LinkingRejection
}

// DecideLinking applies the caller-supplied linking policy to one new login
// method and resolves the candidate primary user it would join. The
// decision is a pure function of current store state: calling it twice
// without intervening mutations yields the same result.
//
// sessionUser non-nil marks a try-link-with-session-user request; per the
// policy contract, the policy may not answer "do not link" to one of those.
func (e *Engine) DecideLinking(ctx context.Context, newMethod LoginMethod, sessionUser *User, tenantID string) (LinkDecision, error) {
	if e == nil || e.userProvider == nil {
		return LinkDecision{}, ErrEngineNotReady
	}

	decision, err := e.linkingPolicy(ctx, newMethod, sessionUser, tenantID)
	if err != nil {
		return LinkDecision{}, err
	}

	if !decision.ShouldAutomaticallyLink {
		if sessionUser != nil {
			return LinkDecision{}, ErrPolicyContract
		}
		return LinkDecision{}, nil
	}

	owner, ownerKnown, err := e.loginMethodOwner(ctx, newMethod.RecipeUserID)
	if err != nil {
		return LinkDecision{}, err
	}

	candidates, err := e.userProvider.ListUsersByAccountInfo(ctx, tenantID, accountInfoOf(newMethod))
	if err != nil {
		return LinkDecision{}, err
	}

	if sessionUser != nil {
		// Factor completion inside a session: the only legal link target is
		// the session user's own cluster.
		if ownerKnown && owner.IsPrimaryUser && owner.ID != sessionUser.ID {
			return LinkDecision{Rejection: newLinkingRejection(ReasonCrossPrimaryFactorCompletion)}, nil
		}
		for _, candidate := range candidates {
			if candidate.IsPrimaryUser && candidate.ID != sessionUser.ID {
				return LinkDecision{Rejection: newLinkingRejection(ReasonSecondFactorCrossPrimary)}, nil
			}
		}
		if rej := verificationConflict(newMethod, *sessionUser, candidates, decision.ShouldRequireVerification); rej != nil {
			return LinkDecision{Rejection: rej}, nil
		}
		return LinkDecision{
			ShouldLink:          true,
			RequireVerification: decision.ShouldRequireVerification,
			PrimaryUserID:       sessionUser.ID,
		}, nil
	}

	var primary *User
	for i := range candidates {
		if !candidates[i].IsPrimaryUser {
			continue
		}
		if ownerKnown && candidates[i].ID == owner.ID {
			continue
		}
		if primary != nil && primary.ID != candidates[i].ID {
			// Two distinct primary users match the same account info. The
			// store's uniqueness constraints should prevent this; refusing
			// to pick a winner is the only safe answer.
			return LinkDecision{Rejection: newLinkingRejection(ReasonUnverifiedIdentityConflict)}, nil
		}
		primary = &candidates[i]
	}

	if ownerKnown && owner.IsPrimaryUser {
		if primary != nil && primary.ID != owner.ID {
			return LinkDecision{Rejection: newLinkingRejection(ReasonCrossPrimaryFactorCompletion)}, nil
		}
		// Already the primary of its own cluster; nothing to link.
		return LinkDecision{ShouldLink: true, RequireVerification: decision.ShouldRequireVerification, PrimaryUserID: owner.ID}, nil
	}

	if primary == nil {
		return LinkDecision{
			ShouldLink:          true,
			RequireVerification: decision.ShouldRequireVerification,
		}, nil
	}

	if rej := verificationConflict(newMethod, *primary, candidates, decision.ShouldRequireVerification); rej != nil {
		return LinkDecision{Rejection: rej}, nil
	}

	return LinkDecision{
		ShouldLink:          true,
		RequireVerification: decision.ShouldRequireVerification,
		PrimaryUserID:       primary.ID,
	}, nil
}

// verificationConflict classifies why an unverified login method may not
// join the candidate primary user. Verified methods never conflict.
func verificationConflict(newMethod LoginMethod, primary User, candidates []User, requireVerification bool) *LinkingRejection {
	if !requireVerification || newMethod.Verified {
		return nil
	}

	// The same contact info verified on any other account in the tenant
	// means an unverified newcomer is claiming someone's proven identity.
	for _, candidate := range candidates {
		if candidate.ID == primary.ID {
			continue
		}
		for _, lm := range candidate.LoginMethods {
			if lm.Verified && sameContactInfo(lm, newMethod) {
				return newLinkingRejection(ReasonSameTenantVerificationConflict)
			}
		}
	}

	for _, lm := range primary.LoginMethods {
		if !lm.Verified && sameContactInfo(lm, newMethod) {
			return newLinkingRejection(ReasonUnverifiedIdentityConflict)
		}
	}

	return nil
}

func sameContactInfo(a, b LoginMethod) bool {
	if a.Email != "" && b.Email != "" && strings.EqualFold(a.Email, b.Email) {
		return true
	}
	if a.PhoneNumber != "" && a.PhoneNumber == b.PhoneNumber {
		return true
	}
	if a.ThirdParty != nil && b.ThirdParty != nil &&
		a.ThirdParty.ProviderID == b.ThirdParty.ProviderID &&
		a.ThirdParty.UserID == b.ThirdParty.UserID {
		return true
	}
	return false
}

func (e *Engine) loginMethodOwner(ctx context.Context, recipeUserID string) (User, bool, error) {
	owner, err := e.userProvider.GetUserByRecipeUserID(ctx, recipeUserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	return owner, true, nil
}

// SignInUp runs the full authentication-event pipeline: first-factor
// gating, recipe-user creation, the linking decision, session creation or
// factor completion, and token issuance. Rejections leave the new recipe
// user in place but unlinked, and record no factor completion.
func (e *Engine) SignInUp(ctx context.Context, input SignInUpInput) (SignInUpResult, error) {
	if e == nil || e.userProvider == nil || e.sessionStore == nil {
		return SignInUpResult{}, ErrEngineNotReady
	}
	if !KnownFactor(input.Factor) {
		return SignInUpResult{Status: StatusFirstFactorNotAllowed}, nil
	}

	tenant, err := e.getOrMaterializeTenant(ctx, input.TenantID)
	if err != nil {
		if errors.Is(err, errTenantNotFound) {
			return SignInUpResult{Status: StatusUnknownTenant}, nil
		}
		return SignInUpResult{}, err
	}

	var (
		sess        *session.Session
		sessionUser *User
	)
	if input.SessionHandle != "" {
		sess, err = e.sessionStore.Get(ctx, input.TenantID, input.SessionHandle)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return SignInUpResult{}, ErrSessionNotFound
			}
			return SignInUpResult{}, err
		}
		u, err := e.userProvider.GetUserByID(ctx, sess.UserID)
		if err != nil {
			return SignInUpResult{}, err
		}
		sessionUser = &u
	}

	if sess == nil {
		firstFactors := resolveFirstFactors(tenant, e.recipes)
		allowed := false
		for _, f := range firstFactors {
			if f == input.Factor {
				allowed = true
				break
			}
		}
		if !allowed {
			e.metricInc(MetricFirstFactorDenied)
			e.emitAudit(ctx, auditEventFirstFactorDenied, false, "", input.TenantID, "", input.Factor, nil, nil)
			return SignInUpResult{Status: StatusFirstFactorNotAllowed}, nil
		}
	} else if !sess.HasCompleted(string(input.Factor)) {
		// A secondary factor not yet on the session is a setup; it must be
		// one the user is actually allowed to set up.
		info, err := e.ComputeMFAInfo(ctx, sess, input.TenantID, *sessionUser)
		if err != nil {
			return SignInUpResult{}, err
		}
		allowed := false
		for _, f := range info.Factors.AllowedToSetup {
			if f == input.Factor {
				allowed = true
				break
			}
		}
		if !allowed {
			return SignInUpResult{Status: StatusFactorSetupNotAllowed}, nil
		}
	}

	user, createdNew, err := e.getOrCreateRecipeUser(ctx, input.TenantID, input.Method)
	if err != nil {
		return SignInUpResult{}, err
	}

	decision, err := e.DecideLinking(ctx, input.Method, sessionUser, input.TenantID)
	if err != nil {
		return SignInUpResult{}, err
	}

	if decision.Rejection == nil && decision.ShouldLink {
		user, decision, err = e.applyLinkDecision(ctx, input, user, sessionUser, decision)
		if err != nil {
			return SignInUpResult{}, err
		}
	}

	if decision.Rejection != nil {
		e.metricInc(MetricLinkRejected)
		e.metricInc(MetricSignInUpRejected)
		e.emitAudit(ctx, auditEventSignInUpRejected, false, user.ID, input.TenantID, input.SessionHandle, input.Factor, nil, func() map[string]string {
			return map[string]string{"reason_code": string(decision.Rejection.Code)}
		})
		return SignInUpResult{
			Status:         StatusSignInUpNotAllowed,
			Reason:         decision.Rejection,
			User:           user,
			CreatedNewUser: createdNew,
		}, nil
	}

	now := time.Now().Unix()
	if sess == nil {
		handle, err := internal.NewSessionHandle()
		if err != nil {
			return SignInUpResult{}, err
		}
		sess = &session.Session{
			SessionHandle:    handle.String(),
			UserID:           user.ID,
			RecipeUserID:     input.Method.RecipeUserID,
			TenantID:         input.TenantID,
			CompletedFactors: map[string]int64{string(input.Factor): now},
			CreatedAt:        now,
			ExpiresAt:        now + int64(e.config.Session.SessionLifetime/time.Second),
		}
		if err := e.sessionStore.Save(ctx, sess, e.config.Session.SessionLifetime); err != nil {
			return SignInUpResult{}, err
		}
		e.metricInc(MetricSessionCreated)
		e.emitAudit(ctx, auditEventSessionCreated, true, user.ID, input.TenantID, sess.SessionHandle, input.Factor, nil, nil)
	} else {
		if err := e.sessionStore.CompleteFactor(ctx, input.TenantID, sess.SessionHandle, string(input.Factor), now); err != nil {
			if errors.Is(err, session.ErrSessionGone) {
				return SignInUpResult{}, ErrSessionNotFound
			}
			return SignInUpResult{}, err
		}
		sess.CompletedFactors[string(input.Factor)] = now
		e.metricInc(MetricFactorCompleted)
		e.emitAudit(ctx, auditEventFactorCompleted, true, user.ID, input.TenantID, sess.SessionHandle, input.Factor, nil, nil)
	}

	token, err := e.jwtManager.CreateSessionToken(
		sess.UserID,
		sess.TenantID,
		sess.SessionHandle,
		sess.RecipeUserID,
		sess.CompletedFactors,
	)
	if err != nil {
		return SignInUpResult{}, err
	}

	e.metricInc(MetricSignInUpSuccess)
	e.emitAudit(ctx, auditEventSignInUpSuccess, true, user.ID, input.TenantID, sess.SessionHandle, input.Factor, nil, nil)

	return SignInUpResult{
		Status:         StatusOK,
		User:           user,
		CreatedNewUser: createdNew,
		SessionHandle:  sess.SessionHandle,
		AccessToken:    token,
	}, nil
}

func (e *Engine) getOrCreateRecipeUser(ctx context.Context, tenantID string, method LoginMethod) (User, bool, error) {
	user, err := e.userProvider.GetUserByRecipeUserID(ctx, method.RecipeUserID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, false, err
	}

	user, err = e.userProvider.CreateRecipeUser(ctx, tenantID, method)
	if err != nil {
		return User{}, false, err
	}
	return user, true, nil
}

// applyLinkDecision performs the act half of check-then-act. The store's
// uniqueness constraints are the real guard; on a reported conflict the
// candidate primary is re-resolved exactly once, and a second conflict
// surfaces as a rejection rather than an arbitrary winner.
func (e *Engine) applyLinkDecision(
	ctx context.Context,
	input SignInUpInput,
	user User,
	sessionUser *User,
	decision LinkDecision,
) (User, LinkDecision, error) {
	reservationToken := ""
	info := accountInfoOf(input.Method)
	if decision.PrimaryUserID == "" && hasContactInfo(info) {
		token, err := internal.NewReservationToken()
		if err != nil {
			return user, decision, err
		}
		if err := e.linkStore.Acquire(ctx, input.TenantID, info, token); err != nil {
			if !errors.Is(err, errReservationHeld) {
				return user, decision, err
			}
			// A concurrent sign-up holds the contact info. Re-resolve once:
			// the winner may have produced the primary user we should join.
			e.metricInc(MetricLinkConflictRetry)
			e.emitAudit(ctx, auditEventLinkConflictRetry, false, user.ID, input.TenantID, input.SessionHandle, input.Factor, nil, nil)
			retried, retryErr := e.DecideLinking(ctx, input.Method, sessionUser, input.TenantID)
			if retryErr != nil {
				return user, decision, retryErr
			}
			if retried.Rejection != nil || !retried.ShouldLink || retried.PrimaryUserID == "" {
				if retried.Rejection == nil {
					retried.Rejection = newLinkingRejection(ReasonUnverifiedIdentityConflict)
				}
				return user, retried, nil
			}
			decision = retried
		} else {
			reservationToken = token
		}
	}
	if reservationToken != "" {
		// Release is best effort; an unreleased reservation falls off at TTL.
		defer func() {
			_ = e.linkStore.Release(ctx, input.TenantID, info, reservationToken)
		}()
	}

	linked, retriedOnce, err := e.linkOnce(ctx, input, user, decision)
	if err == nil {
		e.metricInc(MetricLinkEstablished)
		e.emitAudit(ctx, auditEventLinkEstablished, true, linked.ID, input.TenantID, input.SessionHandle, input.Factor, nil, nil)
		return linked, decision, nil
	}
	if !errors.Is(err, ErrLinkConflict) || retriedOnce {
		if errors.Is(err, ErrLinkConflict) {
			decision.Rejection = newLinkingRejection(ReasonUnverifiedIdentityConflict)
			e.emitAudit(ctx, auditEventLinkRejected, false, user.ID, input.TenantID, input.SessionHandle, input.Factor, ErrLinkConflict, nil)
			return user, decision, nil
		}
		return user, decision, err
	}

	// The act step reported a conflict: someone linked or promoted between
	// our check and act. One re-resolution, then give up.
	e.metricInc(MetricLinkConflictRetry)
	e.emitAudit(ctx, auditEventLinkConflictRetry, false, user.ID, input.TenantID, input.SessionHandle, input.Factor, nil, nil)
	retried, retryErr := e.DecideLinking(ctx, input.Method, sessionUser, input.TenantID)
	if retryErr != nil {
		return user, decision, retryErr
	}
	if retried.Rejection != nil || !retried.ShouldLink {
		if retried.Rejection == nil {
			retried.Rejection = newLinkingRejection(ReasonUnverifiedIdentityConflict)
		}
		return user, retried, nil
	}

	linked, _, err = e.linkOnce(ctx, input, user, retried)
	if err != nil {
		if errors.Is(err, ErrLinkConflict) {
			retried.Rejection = newLinkingRejection(ReasonUnverifiedIdentityConflict)
			e.emitAudit(ctx, auditEventLinkRejected, false, user.ID, input.TenantID, input.SessionHandle, input.Factor, ErrLinkConflict, nil)
			return user, retried, nil
		}
		return user, retried, err
	}
	e.metricInc(MetricLinkEstablished)
	e.emitAudit(ctx, auditEventLinkEstablished, true, linked.ID, input.TenantID, input.SessionHandle, input.Factor, nil, nil)
	return linked, retried, nil
}

// linkOnce performs one act attempt. retriedOnce is true when the caller
// must not retry again on conflict.
func (e *Engine) linkOnce(ctx context.Context, input SignInUpInput, user User, decision LinkDecision) (User, bool, error) {
	if decision.PrimaryUserID == "" || decision.PrimaryUserID == user.ID {
		if user.IsPrimaryUser {
			return user, false, nil
		}
		promoted, err := e.userProvider.MakePrimaryUser(ctx, user.ID)
		if err != nil {
			return user, false, err
		}
		return promoted, false, nil
	}

	if user.IsPrimaryUser && user.ID != decision.PrimaryUserID {
		// Distinct primary clusters never merge.
		return user, true, ErrLinkConflict
	}

	linked, err := e.userProvider.LinkAccounts(ctx, input.Method.RecipeUserID, decision.PrimaryUserID)
	if err != nil {
		return user, false, err
	}
	return linked, false, nil
}

func hasContactInfo(info AccountInfo) bool {
	return info.Email != "" || info.PhoneNumber != "" || info.ThirdParty != nil
}
