package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is an exported constant or variable used by the factor engine.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSessionGone is returned when a factor merge or removal targets a
// session that no longer exists.
var ErrSessionGone = errors.New("session gone")

const completeFactorScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local cur = redis.call("HGET", KEYS[2], ARGV[1])
if (not cur) or tonumber(cur) < tonumber(ARGV[2]) then
  redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`

var completeFactorLua = redis.NewScript(completeFactorScript)

const removeFactorScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
return redis.call("HDEL", KEYS[2], ARGV[1])
`

var removeFactorLua = redis.NewScript(removeFactorScript)

// Store defines a public type used by factorgate APIs.
//
// Store instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore describes the newstore operation and its observable behavior.
//
// NewStore may return an error when input validation, dependency calls, or security checks fail.
// NewStore does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewStore(redis redis.UniversalClient, prefix string) *Store {
	return &Store{
		redis:  redis,
		prefix: prefix,
	}
}

func (s *Store) key(tenantID, handle string) string {
	return s.prefix + ":" + tenantID + ":" + handle
}

func (s *Store) factorsKey(tenantID, handle string) string {
	return s.prefix + "f:" + tenantID + ":" + handle
}

func (s *Store) userKey(tenantID, userID string) string {
	return s.prefix + "u:" + tenantID + ":" + userID
}

// Save persists a new session with the given TTL. The completed-factors
// hash is seeded from the session and shares the session's expiry.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	sessionKey := s.key(sess.TenantID, sess.SessionHandle)
	factorsKey := s.factorsKey(sess.TenantID, sess.SessionHandle)
	userKey := s.userKey(sess.TenantID, sess.UserID)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey, data, ttl)
		pipe.Del(ctx, factorsKey)
		if len(sess.CompletedFactors) > 0 {
			fields := make(map[string]interface{}, len(sess.CompletedFactors))
			for factor, ts := range sess.CompletedFactors {
				fields[factor] = strconv.FormatInt(ts, 10)
			}
			pipe.HSet(ctx, factorsKey, fields)
			pipe.Expire(ctx, factorsKey, ttl)
		}
		pipe.SAdd(ctx, userKey, sess.SessionHandle)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get retrieves a session by tenant and handle, including its current
// completed-factors claim. Returns redis.Nil when the session does not
// exist.
//
//	Performance: 1 GET + 1 HGETALL.
func (s *Store) Get(ctx context.Context, tenantID, handle string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID, handle)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionHandle = handle

	fields, err := s.redis.HGetAll(ctx, s.factorsKey(tenantID, handle)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	sess.CompletedFactors = make(map[string]int64, len(fields))
	for factor, raw := range fields {
		ts, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			return nil, ErrSessionCorrupt
		}
		sess.CompletedFactors[factor] = ts
	}

	return sess, nil
}

// CompleteFactor records a factor completion on the session, atomically.
// The merge keeps the newest timestamp per factor, so a concurrent
// completion of the same factor is never rewound and a concurrent
// completion of a different factor is never lost. Returns [ErrSessionGone]
// when the session no longer exists.
func (s *Store) CompleteFactor(ctx context.Context, tenantID, handle, factor string, completedAt int64) error {
	res, err := completeFactorLua.Run(
		ctx,
		s.redis,
		[]string{s.key(tenantID, handle), s.factorsKey(tenantID, handle)},
		factor,
		completedAt,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if res == 0 {
		return ErrSessionGone
	}
	return nil
}

// RemoveFactor deletes a completed-factor entry from the session claim.
// Returns (false, nil) when the factor was not present and [ErrSessionGone]
// when the session no longer exists.
func (s *Store) RemoveFactor(ctx context.Context, tenantID, handle, factor string) (bool, error) {
	res, err := removeFactorLua.Run(
		ctx,
		s.redis,
		[]string{s.key(tenantID, handle), s.factorsKey(tenantID, handle)},
		factor,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if res < 0 {
		return false, ErrSessionGone
	}
	return res > 0, nil
}

// Delete removes a session, its factors hash, and its user index entry.
// Deleting an absent session is a no-op.
func (s *Store) Delete(ctx context.Context, tenantID, handle string) error {
	data, err := s.redis.Get(ctx, s.key(tenantID, handle)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(tenantID, handle), s.factorsKey(tenantID, handle))
		pipe.SRem(ctx, s.userKey(tenantID, sess.UserID), handle)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// DeleteAllForUser removes every tracked session of a user within a tenant.
// A session created concurrently with this call may survive it; callers
// needing stronger guarantees can invoke it again.
func (s *Store) DeleteAllForUser(ctx context.Context, tenantID, userID string) error {
	userKey := s.userKey(tenantID, userID)

	handles, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, 2*len(handles)+1)
	for _, handle := range handles {
		keys = append(keys, s.key(tenantID, handle), s.factorsKey(tenantID, handle))
	}
	keys = append(keys, userKey)

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// ActiveSessionHandles returns the tracked session handles of a user within
// a tenant.
func (s *Store) ActiveSessionHandles(ctx context.Context, tenantID, userID string) ([]string, error) {
	handles, err := s.redis.SMembers(ctx, s.userKey(tenantID, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return handles, nil
}

// Ping verifies store connectivity and reports the round-trip time.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
