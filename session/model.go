package session

// Session defines a public type used by factorgate APIs.
//
// Session instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Session struct {
	SessionHandle string
	UserID        string
	RecipeUserID  string
	TenantID      string

	// CompletedFactors maps factor tags to the unix-seconds timestamp of
	// their most recent completion. Entries are appended on completion and
	// removed only by an explicit removal operation.
	CompletedFactors map[string]int64

	CreatedAt int64
	ExpiresAt int64
}

// HasCompleted reports whether the session has completed the given factor.
func (s *Session) HasCompleted(factor string) bool {
	if s == nil {
		return false
	}
	_, ok := s.CompletedFactors[factor]
	return ok
}
