package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis. The absolute token deadline is
// mapped to a key TTL, so expired tokens vanish without a reaper. Owner and
// type indexes are kept in sets and cleaned lazily when a member's key has
// expired.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Store on top of a Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "idptok"}
}

type redisToken struct {
	Owner    int64      `json:"owner"`
	Contents []byte     `json:"contents"`
	Created  time.Time  `json:"created"`
	Expires  *time.Time `json:"expires,omitempty"`
}

func (s *RedisStore) tokenKey(tokenType, id string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, tokenType, id)
}

func (s *RedisStore) ownerKey(tokenType string, owner int64) string {
	return fmt.Sprintf("%s:owner:%s:%d", s.prefix, tokenType, owner)
}

func (s *RedisStore) typeKey(tokenType string) string {
	return fmt.Sprintf("%s:all:%s", s.prefix, tokenType)
}

// Add implements Store.
func (s *RedisStore) Add(ctx context.Context, t Token) error {
	blob, err := json.Marshal(redisToken{Owner: t.Owner, Contents: t.Contents, Created: t.Created, Expires: t.Expires})
	if err != nil {
		return fmt.Errorf("serializing token %s/%s: %w", t.Type, t.ID, err)
	}

	key := s.tokenKey(t.Type, t.ID)
	ok, err := s.client.SetNX(ctx, key, blob, 0).Result()
	if err != nil {
		return fmt.Errorf("adding token %s/%s: %w", t.Type, t.ID, err)
	}
	if !ok {
		return fmt.Errorf("adding token %s/%s: %w", t.Type, t.ID, ErrAlreadyExists)
	}
	if t.Expires != nil {
		s.client.PExpireAt(ctx, key, *t.Expires)
	}
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, s.ownerKey(t.Type, t.Owner), t.ID)
	pipe.SAdd(ctx, s.typeKey(t.Type), t.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("indexing token %s/%s: %w", t.Type, t.ID, err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, tokenType, id string) (Token, error) {
	blob, err := s.client.Get(ctx, s.tokenKey(tokenType, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, fmt.Errorf("token %s/%s: %w", tokenType, id, ErrNotFound)
	}
	if err != nil {
		return Token{}, fmt.Errorf("reading token %s/%s: %w", tokenType, id, err)
	}
	var rt redisToken
	if err := json.Unmarshal(blob, &rt); err != nil {
		return Token{}, fmt.Errorf("parsing token %s/%s: %w", tokenType, id, err)
	}
	return Token{
		Type:     tokenType,
		ID:       id,
		Owner:    rt.Owner,
		Contents: rt.Contents,
		Created:  rt.Created,
		Expires:  rt.Expires,
	}, nil
}

// GetByID implements Store.
func (s *RedisStore) GetByID(ctx context.Context, tokenType, id string) (Token, error) {
	return s.get(ctx, tokenType, id)
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, tokenType, id string, expires *time.Time, contents []byte) error {
	t, err := s.get(ctx, tokenType, id)
	if err != nil {
		return err
	}
	t.Contents = contents
	if expires != nil {
		t.Expires = expires
	}
	blob, err := json.Marshal(redisToken{Owner: t.Owner, Contents: t.Contents, Created: t.Created, Expires: t.Expires})
	if err != nil {
		return fmt.Errorf("serializing token %s/%s: %w", tokenType, id, err)
	}
	key := s.tokenKey(tokenType, id)
	if err := s.client.Set(ctx, key, blob, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("updating token %s/%s: %w", tokenType, id, err)
	}
	if expires != nil {
		s.client.PExpireAt(ctx, key, *expires)
	}
	return nil
}

// Remove implements Store.
func (s *RedisStore) Remove(ctx context.Context, tokenType, id string) error {
	t, err := s.get(ctx, tokenType, id)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.tokenKey(tokenType, id))
	pipe.SRem(ctx, s.ownerKey(tokenType, t.Owner), id)
	pipe.SRem(ctx, s.typeKey(tokenType), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing token %s/%s: %w", tokenType, id, err)
	}
	return nil
}

// GetOwned implements Store.
func (s *RedisStore) GetOwned(ctx context.Context, tokenType string, owner int64) ([]Token, error) {
	ids, err := s.client.SMembers(ctx, s.ownerKey(tokenType, owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing owned %s tokens: %w", tokenType, err)
	}
	return s.collect(ctx, tokenType, ids, s.ownerKey(tokenType, owner))
}

// GetAll implements Store.
func (s *RedisStore) GetAll(ctx context.Context, tokenType string) ([]Token, error) {
	ids, err := s.client.SMembers(ctx, s.typeKey(tokenType)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing %s tokens: %w", tokenType, err)
	}
	return s.collect(ctx, tokenType, ids, s.typeKey(tokenType))
}

func (s *RedisStore) collect(ctx context.Context, tokenType string, ids []string, indexKey string) ([]Token, error) {
	var out []Token
	for _, id := range ids {
		t, err := s.get(ctx, tokenType, id)
		if errors.Is(err, ErrNotFound) {
			// key expired under the index entry
			s.client.SRem(ctx, indexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// InTransaction implements Store with a short-lived distributed lock, so the
// get-or-create session sequence is atomic across server instances sharing
// one Redis.
func (s *RedisStore) InTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	lockKey := s.prefix + ":txlock"
	lockVal := uuid.NewString()

	for {
		ok, err := s.client.SetNX(ctx, lockKey, lockVal, 5*time.Second).Result()
		if err != nil {
			return fmt.Errorf("acquiring token store lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	defer releaseLock.Run(context.WithoutCancel(ctx), s.client, []string{lockKey}, lockVal)

	return fn(ctx, s)
}

// releaseLock deletes the lock only when still held by this owner.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
