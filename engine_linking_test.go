package factorgate

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestSignInUpFirstFactorCreatesSession(t *testing.T) {
	up := newMemoryUserProvider()
	engine, _, done := newFactorEngine(t, factorTestConfig(), up)
	defer done()

	result := signInFirstFactor(t, engine, PublicTenantID, FactorEmailPassword, emailMethod("alice@example.com", true))

	if !result.CreatedNewUser {
		t.Fatal("expected a new recipe user")
	}
	if result.SessionHandle == "" || result.AccessToken == "" {
		t.Fatal("expected session handle and access token")
	}

	claims, err := engine.VerifySessionToken(context.Background(), result.AccessToken)
	if err != nil {
		t.Fatalf("VerifySessionToken failed: %v", err)
	}
	if claims.UID != result.User.ID || claims.TID != PublicTenantID {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if _, ok := claims.ST[string(FactorEmailPassword)]; !ok {
		t.Fatalf("expected completed factor claim, got %v", claims.ST)
	}
}

func TestSignInUpRejectsDisallowedFirstFactor(t *testing.T) {
	up := newMemoryUserProvider()
	engine, _, done := newFactorEngine(t, factorTestConfig(), up)
	defer done()

	// totp can never establish a session.
	result, err := engine.SignInUp(context.Background(), SignInUpInput{
		TenantID: PublicTenantID,
		Factor:   FactorTOTP,
		Method:   LoginMethod{RecipeUserID: uuid.NewString(), RecipeID: RecipeTOTP},
	})
	if err != nil {
		t.Fatalf("SignInUp failed: %v", err)
	}
	if result.Status != StatusFirstFactorNotAllowed {
		t.Fatalf("expected FIRST_FACTOR_NOT_ALLOWED_ERROR, got %s", result.Status)
	}
	if up.userCount() != 0 {
		t.Fatalf("expected no user created on first-factor denial, got %d", up.userCount())
	}
	if engine.MetricsSnapshot().Counters[MetricFirstFactorDenied] != 1 {
		t.Fatal("expected first-factor denial metric")
	}
}

func TestSignInUpAllowsEachListedFirstFactor(t *testing.T) {
	up := newMemoryUserProvider()
	engine, _, done := newFactorEngine(t, factorTestConfig(), up)
	defer done()

	if _, err := engine.CreateTenant(context.Background(), TenantConfig{
		TenantID:     "dual",
		FirstFactors: []FactorID{FactorEmailPassword, FactorOTPEmail},
	}); err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}

	first := signInFirstFactor(t, engine, "dual", FactorEmailPassword, emailMethod("alice@example.com", true))
	if first.SessionHandle == "" {
		t.Fatal("expected session from emailpassword sign-in")
	}

	second, err := engine.SignInUp(context.Background(), SignInUpInput{
		TenantID: "dual",
		Factor:   FactorOTPEmail,
		Method: LoginMethod{
			RecipeUserID: uuid.NewString(),
			RecipeID:     RecipePasswordless,
			Email:        "bob@example.com",
			Verified:     true,
		},
	})
	if err != nil {
		t.Fatalf("SignInUp failed: %v", err)
	}
	if second.Status != StatusOK || second.SessionHandle == "" {
		t.Fatalf("expected session from otp-email sign-in, got %s", second.Status)
	}
}

func TestSignInUpRespectsTenantFirstFactorList(t *testing.T) {
	up := newMemoryUserProvider()
	engine, _, done := newFactorEngine(t, factorTestConfig(), up)
	defer done()

	if _, err := engine.CreateTenant(context.Background(), TenantConfig{
		TenantID:     "strict",
		FirstFactors: []FactorID{FactorOTPEmail},
	}); err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}

	result, err := engine.SignInUp(context.Background(), SignInUpInput{
		TenantID: "strict",
		Factor:   FactorEmailPassword,
		Method:   emailMethod("alice@example.com", true),
	})
	if err != nil {
		t.Fatalf("SignInUp failed: %v", err)
	}
	if result.Status != StatusFirstFactorNotAllowed {
		t.Fatalf("expected FIRST_FACTOR_NOT_ALLOWED_ERROR, got %s", result.Status)
	}
}

func TestSignInUpUnknownTenant(t *testing.T) {
	up := newMemoryUserProvider()
	engine, _, done := newFactorEngine(t, factorTestConfig(), up)
	defer done()

	result, err := engine.SignInUp(context.Background(), SignInUpInput{
		TenantID: "missing",
		Factor:   FactorEmailPassword,
		Method:   emailMethod("alice@example.com", true),
	})
	if err != nil {
		t.Fatalf("SignInUp failed: %v", err)
	}
	if result.Status != StatusUnknownTenant {
		t.Fatalf("expected UNKNOWN_TENANT_ERROR, got %s", result.Status)
	}
}

func TestSignInUpMakesFirstUserPrimaryUnderLinkPolicy(t *testing.T) {
	up := newMemoryUserProvider()
	engine, _, done := newFactorEngine(t, factorTestConfig(), up, withPolicy(alwaysLinkPolicy(true)))
	defer done()

	result := signInFirstFactor(t, engine, PublicTenantID, FactorEmailPassword, emailMethod("alice@example.com", true))
	if !result.User.IsPrimaryUser {
		t.Fatal("expected user promoted to primary")
	}
}

func TestSignInUpLinksVerifiedMethodToExistingPrimary(t *testing.T) {
	up := newMemoryUserProvider()
	engine, _, done := newFactorEngine(t, factorTestConfig(), up, withPolicy(alwaysLinkPolicy(true)))
	defer done()

	first := signInFirstFactor(t, engine, PublicTenantID, FactorEmailPassword, emailMethod("alice@example.com", true))

	second := LoginMethod{
		RecipeUserID: uuid.NewString(),
		RecipeID:     RecipePasswordless,
		Email:        "alice@example.com",
		Verified:     true,
	}
	result := signInFirstFactor(t, engine, PublicTenantID, FactorOTPEmail, second)

	if result.User.ID != first.User.ID {
		t.Fatalf("expected link into existing primary %s, got %s", first.User.ID, result.User.ID)
	}
	if len(result.User.LoginMethods) != 2 {
		t.Fatalf("expected two login methods after link, got %d", len(result.User.LoginMethods))
	}
	if up.userCount() != 1 {
		t.Fatalf("expected one merged user, got %d", up.userCount())
	}
	if engine.MetricsSnapshot().Counters[MetricLinkEstablished] == 0 {
		t.Fatal("expected link established metric")
	}
}

func TestSignInUpRejectsUnverifiedIdentityConflict(t *testing.T) {
	up := newMemoryUserProvider()
	engine, _, done := newFactorEngine(t, factorTestConfig(), up, withPolicy(alwaysLinkPolicy(true)))
	defer done()

	signInFirstFactor(t, engine, PublicTenantID, FactorEmailPassword, emailMethod("alice@example.com", false))

	result, err := engine.SignInUp(context.Background(), SignInUpInput{
		TenantID: PublicTenantID,
		Factor:   FactorOTPEmail,
		Method: LoginMethod{
			RecipeUserID: uuid.NewString(),
			RecipeID:     RecipePasswordless,
			Email:        "alice@example.com",
			Verified:     false,
		},
	})
	if err != nil {
		t.Fatalf("SignInUp failed: %v", err)
	}

	if result.Status != StatusSignInUpNotAllowed {
		t.Fatalf("expected SIGN_IN_UP_NOT_ALLOWED, got %s", result.Status)
	}
	if result.Reason == nil || result.Reason.Code != ReasonUnverifiedIdentityConflict {
		t.Fatalf("expected ERR_CODE_013 rejection, got %+v", result.Reason)
	}
	wantMsg := "Cannot sign in / up due to security reasons. Please try a different login method or contact support. (ERR_CODE_013)"
	if result.Reason.Message != wantMsg {
		t.Fatalf("rejection message mismatch:\n got %q\nwant %q", result.Reason.Message, wantMsg)
	}

	// The recipe user exists but stays unlinked, and no session was created.
	if !result.CreatedNewUser || result.User.IsPrimaryUser {
		t.Fatalf("expected an unlinked recipe user, got %+v", result.User)
	}
	if result.SessionHandle != "" || result.AccessToken != "" {
		t.Fatal("expected no session on rejection")
	}
	if up.userCount() != 2 {
		t.Fatalf("expected two separate users, got %d", up.userCount())
	}
}

func TestSignInUpRejectsVerifiedContactOnOtherAccount(t *testing.T) {
	up := newMemoryUserProvider()
	engine, _, done := newFactorEngine(t, factorTestConfig(), up, withPolicy(alwaysLinkPolicy(true)))
	defer done()

	signInFirstFactor(t, engine, PublicTenantID, FactorEmailPassword, emailMethod("alice@example.com", true))

	// A separate, unlinked account in the tenant carries the same email,
	// verified.
	if _, err := up.CreateRecipeUser(context.Background(), PublicTenantID, LoginMethod{
		RecipeUserID: uuid.NewString(),
		RecipeID:     RecipeThirdParty,
		Email:        "alice@example.com",
		Verified:     true,
	}); err != nil {
		t.Fatalf("CreateRecipeUser failed: %v", err)
	}

	result, err := engine.SignInUp(context.Background(), SignInUpInput{
		TenantID: PublicTenantID,
		Factor:   FactorOTPEmail,
		Method: LoginMethod{
			RecipeUserID: uuid.NewString(),
			RecipeID:     RecipePasswordless,
			Email:        "alice@example.com",
			Verified:     false,
		},
	})
	if err != nil {
		t.Fatalf("SignInUp failed: %v", err)
	}
	if result.Status != StatusSignInUpNotAllowed {
		t.Fatalf("expected SIGN_IN_UP_NOT_ALLOWED, got %s", result.Status)
	}
	if result.Reason == nil || result.Reason.Code != ReasonSameTenantVerificationConflict {
		t.Fatalf("expected ERR_CODE_018 rejection, got %+v", result.Reason)
	}
}

func TestSignInUpFactorCompletionCrossPrimaryRejected(t *testing.T) {
	up := newMemoryUserProvider()
	engine, _, done := newFactorEngine(t, factorTestConfig(), up, withPolicy(alwaysLinkPolicy(true)))
	defer done()

	bobMethod := emailMethod("bob@example.com", true)
	signInFirstFactor(t, engine, PublicTenantID, FactorEmailPassword, bobMethod)
	alice := signInFirstFactor(t, engine, PublicTenantID, FactorEmailPassword, emailMethod("alice@example.com", true))

	// Completing a factor in alice's session with a login method that
	// already belongs to bob's primary cluster.
	result, err := engine.SignInUp(context.Background(), SignInUpInput{
		TenantID:      PublicTenantID,
		Factor:        FactorOTPEmail,
		Method:        bobMethod,
		SessionHandle: alice.SessionHandle,
	})
	if err != nil {
		t.Fatalf("SignInUp failed: %v", err)
	}
	if result.Status != StatusSignInUpNotAllowed {
		t.Fatalf("expected SIGN_IN_UP_NOT_ALLOWED, got %s", result.Status)
	}
	if result.Reason == nil || result.Reason.Code != ReasonCrossPrimaryFactorCompletion {
		t.Fatalf("expected ERR_CODE_017 rejection, got %+v", result.Reason)
	}

	// Alice's session gained no factor completion.
	sess, err := engine.GetSession(context.Background(), PublicTenantID, alice.SessionHandle)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.HasCompleted(string(FactorOTPEmail)) {
		t.Fatal("expected no factor completion on rejection")
	}
}

func TestSignInUpSecondFactorCrossPrimaryRejected(t *testing.T) {
	up := newMemoryUserProvider()
	engine, _, done := newFactorEngine(t, factorTestConfig(), up, withPolicy(alwaysLinkPolicy(true)))
	defer done()

	signInFirstFactor(t, engine, PublicTenantID, FactorEmailPassword, emailMethod("bob@example.com", true))
	alice := signInFirstFactor(t, engine, PublicTenantID, FactorEmailPassword, emailMethod("alice@example.com", true))

	// Setting up a second factor in alice's session whose contact info
	// belongs to bob's primary cluster.
	result, err := engine.SignInUp(context.Background(), SignInUpInput{
		TenantID: PublicTenantID,
		Factor:   FactorOTPEmail,
		Method: LoginMethod{
			RecipeUserID: uuid.NewString(),
			RecipeID:     RecipePasswordless,
			Email:        "bob@example.com",
			Verified:     true,
		},
		SessionHandle: alice.SessionHandle,
	})
	if err != nil {
		t.Fatalf("SignInUp failed: %v", err)
	}
	if result.Status != StatusSignInUpNotAllowed {
		t.Fatalf("expected SIGN_IN_UP_NOT_ALLOWED, got %s", result.Status)
	}
	if result.Reason == nil || result.Reason.Code != ReasonSecondFactorCrossPrimary {
		t.Fatalf("expected ERR_CODE_022 rejection, got %+v", result.Reason)
	}
}

func TestSignInUpFactorCompletionInSession(t *testing.T) {
	up := newMemoryUserProvider()
	engine, _, done := newFactorEngine(t, factorTestConfig(), up, withPolicy(alwaysLinkPolicy(true)))
	defer done()

	alice := signInFirstFactor(t, engine, PublicTenantID, FactorEmailPassword, emailMethod("alice@example.com", true))

	result, err := engine.SignInUp(context.Background(), SignInUpInput{
		TenantID: PublicTenantID,
		Factor:   FactorOTPEmail,
		Method: LoginMethod{
			RecipeUserID: uuid.NewString(),
			RecipeID:     RecipePasswordless,
			Email:        "alice@example.com",
			Verified:     true,
		},
		SessionHandle: alice.SessionHandle,
	})
	if err != nil {
		t.Fatalf("SignInUp failed: %v", err)
	}
	if result.Status != StatusOK {
		t.Fatalf("expected OK, got %s (%+v)", result.Status, result.Reason)
	}
	if result.SessionHandle != alice.SessionHandle {
		t.Fatal("expected factor completion to reuse the session")
	}

	sess, err := engine.GetSession(context.Background(), PublicTenantID, alice.SessionHandle)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !sess.HasCompleted(string(FactorEmailPassword)) || !sess.HasCompleted(string(FactorOTPEmail)) {
		t.Fatalf("expected both factors completed, got %v", sess.CompletedFactors)
	}
}

func TestDecideLinkingPolicyContractViolation(t *testing.T) {
	up := newMemoryUserProvider()
	engine, _, done := newFactorEngine(t, factorTestConfig(), up)
	defer done()

	sessionUser := &User{ID: "u1", IsPrimaryUser: true}
	_, err := engine.DecideLinking(context.Background(), emailMethod("alice@example.com", true), sessionUser, PublicTenantID)
	if !errors.Is(err, ErrPolicyContract) {
		t.Fatalf("expected ErrPolicyContract, got %v", err)
	}
}

func TestDecideLinkingIsRepeatable(t *testing.T) {
	up := newMemoryUserProvider()
	engine, _, done := newFactorEngine(t, factorTestConfig(), up, withPolicy(alwaysLinkPolicy(true)))
	defer done()

	first := signInFirstFactor(t, engine, PublicTenantID, FactorEmailPassword, emailMethod("alice@example.com", true))

	method := LoginMethod{
		RecipeUserID: uuid.NewString(),
		RecipeID:     RecipePasswordless,
		Email:        "alice@example.com",
		Verified:     true,
	}
	a, err := engine.DecideLinking(context.Background(), method, nil, PublicTenantID)
	if err != nil {
		t.Fatalf("DecideLinking failed: %v", err)
	}
	b, err := engine.DecideLinking(context.Background(), method, nil, PublicTenantID)
	if err != nil {
		t.Fatalf("DecideLinking failed: %v", err)
	}
	if a != b {
		t.Fatalf("decision not repeatable: %+v vs %+v", a, b)
	}
	if !a.ShouldLink || a.PrimaryUserID != first.User.ID {
		t.Fatalf("expected link into %s, got %+v", first.User.ID, a)
	}
}

func TestSignInUpRetriesOnceOnLinkConflict(t *testing.T) {
	up := newMemoryUserProvider()
	engine, _, done := newFactorEngine(t, factorTestConfig(), up, withPolicy(alwaysLinkPolicy(true)))
	defer done()

	first := signInFirstFactor(t, engine, PublicTenantID, FactorEmailPassword, emailMethod("alice@example.com", true))

	up.failNextLink(ErrLinkConflict)
	result := signInFirstFactor(t, engine, PublicTenantID, FactorOTPEmail, LoginMethod{
		RecipeUserID: uuid.NewString(),
		RecipeID:     RecipePasswordless,
		Email:        "alice@example.com",
		Verified:     true,
	})

	if result.User.ID != first.User.ID {
		t.Fatalf("expected link to succeed on retry, got user %s", result.User.ID)
	}
	counters := engine.MetricsSnapshot().Counters
	if counters[MetricLinkConflictRetry] != 1 {
		t.Fatalf("expected exactly one conflict retry, got %d", counters[MetricLinkConflictRetry])
	}
	if counters[MetricLinkEstablished] == 0 {
		t.Fatal("expected link established after retry")
	}
}

func TestSignInUpRejectsWhenRetryConflictsAgain(t *testing.T) {
	up := newMemoryUserProvider()
	engine, _, done := newFactorEngine(t, factorTestConfig(), up, withPolicy(alwaysLinkPolicy(true)))
	defer done()

	signInFirstFactor(t, engine, PublicTenantID, FactorEmailPassword, emailMethod("alice@example.com", true))

	// Both the first attempt and the single retry conflict.
	up.failLinks(2, ErrLinkConflict)
	result, err := engine.SignInUp(context.Background(), SignInUpInput{
		TenantID: PublicTenantID,
		Factor:   FactorOTPEmail,
		Method: LoginMethod{
			RecipeUserID: uuid.NewString(),
			RecipeID:     RecipePasswordless,
			Email:        "alice@example.com",
			Verified:     true,
		},
	})
	if err != nil {
		t.Fatalf("SignInUp failed: %v", err)
	}

	if result.Status != StatusSignInUpNotAllowed {
		t.Fatalf("expected SIGN_IN_UP_NOT_ALLOWED after failed retry, got %s", result.Status)
	}
	if result.Reason == nil {
		t.Fatal("expected a rejection reason")
	}
	if result.SessionHandle != "" || result.AccessToken != "" {
		t.Fatal("expected no session on rejection")
	}
	if engine.MetricsSnapshot().Counters[MetricLinkConflictRetry] != 1 {
		t.Fatal("expected exactly one retry before giving up")
	}
}
