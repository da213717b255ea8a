package factorgate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	errReservationHeld    = errors.New("contact info reservation held")
	errReservationBackend = errors.New("link reservation backend unavailable")
)

const releaseReservationScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseReservationLua = redis.NewScript(releaseReservationScript)

// linkReservationStore serializes the check-then-act window of "resolve
// candidate primary user, then link". A reservation on the new login
// method's contact info is taken before the candidate is resolved and
// released after the link lands (or the attempt is rejected). Two
// concurrent sign-ups racing for the same contact info cannot both hold
// the reservation, so only one of them creates or joins the primary user;
// the loser re-resolves against the winner's outcome.
type linkReservationStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func newLinkReservationStore(redisClient redis.UniversalClient, cfg LinkingConfig) *linkReservationStore {
	return &linkReservationStore{
		redis:  redisClient,
		prefix: cfg.RedisPrefix,
		ttl:    cfg.ReservationTTL,
	}
}

func (s *linkReservationStore) key(tenantID string, info AccountInfo) string {
	parts := []string{s.prefix, "resv", tenantID}
	if info.Email != "" {
		parts = append(parts, "e", strings.ToLower(info.Email))
	}
	if info.PhoneNumber != "" {
		parts = append(parts, "p", info.PhoneNumber)
	}
	if info.ThirdParty != nil {
		parts = append(parts, "tp", info.ThirdParty.ProviderID, info.ThirdParty.UserID)
	}
	return strings.Join(parts, ":")
}

// Acquire claims the contact info for one in-flight link operation. Returns
// errReservationHeld when another caller holds it.
func (s *linkReservationStore) Acquire(ctx context.Context, tenantID string, info AccountInfo, token string) error {
	ok, err := s.redis.SetNX(ctx, s.key(tenantID, info), token, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errReservationBackend, err)
	}
	if !ok {
		return errReservationHeld
	}
	return nil
}

// Release drops the reservation if and only if the caller still owns it.
// A reservation that expired and was re-acquired by another caller is left
// untouched.
func (s *linkReservationStore) Release(ctx context.Context, tenantID string, info AccountInfo, token string) error {
	if err := releaseReservationLua.Run(ctx, s.redis, []string{s.key(tenantID, info)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", errReservationBackend, err)
	}
	return nil
}
