package factorgate

// FactorID identifies a distinguishable authentication method instance by a
// stable string tag. The vocabulary is fixed; unknown tags fail membership
// checks and are dropped by the resolver.
//
//	Docs: docs/factors.md
type FactorID string

const (
	// FactorEmailPassword is an exported constant or variable used by the factor engine.
	FactorEmailPassword FactorID = "emailpassword"
	// FactorThirdParty is an exported constant or variable used by the factor engine.
	FactorThirdParty FactorID = "thirdparty"
	// FactorOTPEmail is an exported constant or variable used by the factor engine.
	FactorOTPEmail FactorID = "otp-email"
	// FactorOTPPhone is an exported constant or variable used by the factor engine.
	FactorOTPPhone FactorID = "otp-phone"
	// FactorLinkEmail is an exported constant or variable used by the factor engine.
	FactorLinkEmail FactorID = "link-email"
	// FactorLinkPhone is an exported constant or variable used by the factor engine.
	FactorLinkPhone FactorID = "link-phone"
	// FactorTOTP is an exported constant or variable used by the factor engine.
	FactorTOTP FactorID = "totp"
)

// RecipeID identifies a pluggable authentication method provider. Recipes
// run outside this engine; the catalog only maps them to the factors they
// can produce.
type RecipeID string

const (
	// RecipeEmailPassword is an exported constant or variable used by the factor engine.
	RecipeEmailPassword RecipeID = "emailpassword"
	// RecipeThirdParty is an exported constant or variable used by the factor engine.
	RecipeThirdParty RecipeID = "thirdparty"
	// RecipePasswordless is an exported constant or variable used by the factor engine.
	RecipePasswordless RecipeID = "passwordless"
	// RecipeTOTP is an exported constant or variable used by the factor engine.
	RecipeTOTP RecipeID = "totp"
)

// ContactMethod selects which contact channels a passwordless recipe is
// configured to deliver codes or links over.
type ContactMethod string

const (
	// ContactEmail is an exported constant or variable used by the factor engine.
	ContactEmail ContactMethod = "EMAIL"
	// ContactPhone is an exported constant or variable used by the factor engine.
	ContactPhone ContactMethod = "PHONE"
	// ContactEmailOrPhone is an exported constant or variable used by the factor engine.
	ContactEmailOrPhone ContactMethod = "EMAIL_OR_PHONE"
)

// FlowType selects which passwordless delivery flows are enabled.
type FlowType string

const (
	// FlowUserInputCode is an exported constant or variable used by the factor engine.
	FlowUserInputCode FlowType = "USER_INPUT_CODE"
	// FlowMagicLink is an exported constant or variable used by the factor engine.
	FlowMagicLink FlowType = "MAGICLINK"
	// FlowUserInputCodeAndMagicLink is an exported constant or variable used by the factor engine.
	FlowUserInputCodeAndMagicLink FlowType = "USER_INPUT_CODE_AND_MAGIC_LINK"
)

// ContactChannel is the contact prerequisite a factor needs from the user
// before it can be set up.
type ContactChannel uint8

const (
	// ChannelNone is an exported constant or variable used by the factor engine.
	ChannelNone ContactChannel = iota
	// ChannelEmail is an exported constant or variable used by the factor engine.
	ChannelEmail
	// ChannelPhone is an exported constant or variable used by the factor engine.
	ChannelPhone
)

// Recipe describes one initialized factor-producing recipe. ContactMethod
// and FlowType are meaningful only for [RecipePasswordless] and ignored for
// every other recipe.
type Recipe struct {
	ID            RecipeID
	ContactMethod ContactMethod
	FlowType      FlowType
}

var factorRecipe = map[FactorID]RecipeID{
	FactorEmailPassword: RecipeEmailPassword,
	FactorThirdParty:    RecipeThirdParty,
	FactorOTPEmail:      RecipePasswordless,
	FactorOTPPhone:      RecipePasswordless,
	FactorLinkEmail:     RecipePasswordless,
	FactorLinkPhone:     RecipePasswordless,
	FactorTOTP:          RecipeTOTP,
}

var factorChannel = map[FactorID]ContactChannel{
	FactorEmailPassword: ChannelEmail,
	FactorThirdParty:    ChannelEmail,
	FactorOTPEmail:      ChannelEmail,
	FactorOTPPhone:      ChannelPhone,
	FactorLinkEmail:     ChannelEmail,
	FactorLinkPhone:     ChannelPhone,
	FactorTOTP:          ChannelNone,
}

// KnownFactor reports whether id belongs to the fixed factor vocabulary.
func KnownFactor(id FactorID) bool {
	_, ok := factorRecipe[id]
	return ok
}

// RecipeForFactor returns the recipe that produces the given factor.
func RecipeForFactor(id FactorID) (RecipeID, bool) {
	r, ok := factorRecipe[id]
	return r, ok
}

// ChannelForFactor returns the contact channel the factor requires from a
// user before setup. TOTP requires none.
func ChannelForFactor(id FactorID) ContactChannel {
	return factorChannel[id]
}

// firstFactorCapable reports whether a recipe can establish an initial
// session. TOTP is secondary-only.
func firstFactorCapable(id RecipeID) bool {
	switch id {
	case RecipeEmailPassword, RecipeThirdParty, RecipePasswordless:
		return true
	default:
		return false
	}
}

// passwordlessVariants expands a passwordless recipe configuration into its
// concrete factor variants. Expansion order is fixed: otp before link, email
// before phone. Callers depend on this order for stable API responses.
func passwordlessVariants(contact ContactMethod, flow FlowType) []FactorID {
	email := contact == ContactEmail || contact == ContactEmailOrPhone
	phone := contact == ContactPhone || contact == ContactEmailOrPhone
	otp := flow == FlowUserInputCode || flow == FlowUserInputCodeAndMagicLink
	link := flow == FlowMagicLink || flow == FlowUserInputCodeAndMagicLink

	var out []FactorID
	if otp && email {
		out = append(out, FactorOTPEmail)
	}
	if otp && phone {
		out = append(out, FactorOTPPhone)
	}
	if link && email {
		out = append(out, FactorLinkEmail)
	}
	if link && phone {
		out = append(out, FactorLinkPhone)
	}
	return out
}

// FactorsForRecipe expands an initialized recipe into the factors it can
// produce under its configuration.
func FactorsForRecipe(r Recipe) []FactorID {
	switch r.ID {
	case RecipeEmailPassword:
		return []FactorID{FactorEmailPassword}
	case RecipeThirdParty:
		return []FactorID{FactorThirdParty}
	case RecipePasswordless:
		return passwordlessVariants(r.ContactMethod, r.FlowType)
	case RecipeTOTP:
		return []FactorID{FactorTOTP}
	default:
		return nil
	}
}

// recipeProducesFactor reports whether the given initialized recipe, under
// its contact-method/flow-type configuration, can produce factor id. A
// factor whose recipe is initialized with an incompatible configuration
// (e.g. otp-phone on an EMAIL-only passwordless recipe) is not producible.
func recipeProducesFactor(r Recipe, id FactorID) bool {
	for _, f := range FactorsForRecipe(r) {
		if f == id {
			return true
		}
	}
	return false
}
