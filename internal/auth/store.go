package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const redisKeyPrefix = "inkwell:key:"

// KeyStore looks up API key metadata by hash. Unknown keys yield nil, nil.
type KeyStore interface {
	Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error)
}

// CachedKeyStore implements KeyStore with PostgreSQL and a Redis read-through
// cache. Concurrent misses for the same key share one database query.
type CachedKeyStore struct {
	db     *pgxpool.Pool
	redis  *redis.Client
	ttl    time.Duration
	lookup singleflight.Group
}

func NewCachedKeyStore(db *pgxpool.Pool, rdb *redis.Client, ttl time.Duration) *CachedKeyStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedKeyStore{db: db, redis: rdb, ttl: ttl}
}

func (s *CachedKeyStore) Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error) {
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, redisKeyPrefix+keyHash).Bytes()
		if err == nil {
			var meta KeyMetadata
			if err := json.Unmarshal(cached, &meta); err == nil {
				return &meta, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			slog.Warn("api key cache read failed", "error", err)
		}
	}

	v, err, _ := s.lookup.Do(keyHash, func() (any, error) {
		return s.lookupDB(ctx, keyHash)
	})
	meta, _ := v.(*KeyMetadata)
	if err != nil || meta == nil {
		return nil, err
	}

	if s.redis != nil {
		if data, err := json.Marshal(meta); err == nil {
			s.redis.Set(ctx, redisKeyPrefix+keyHash, data, s.ttl)
		}
	}
	return meta, nil
}

func (s *CachedKeyStore) lookupDB(ctx context.Context, keyHash string) (*KeyMetadata, error) {
	var meta KeyMetadata
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, name, roles, expires_at
		FROM api_keys
		WHERE key_hash = $1
		  AND status = 'active'
		  AND expires_at > NOW()
	`, keyHash).Scan(&meta.ID, &meta.UserID, &meta.Name, &meta.Roles, &meta.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query api_keys: %w", err)
	}

	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := s.db.Exec(bgCtx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, meta.ID); err != nil {
			slog.Debug("touch api key failed", "key_id", meta.ID, "error", err)
		}
	}()
	return &meta, nil
}

// NewKey describes a key to issue.
type NewKey struct {
	UserID    string
	Name      string
	Roles     []string
	Env       string
	ExpiresIn time.Duration
}

// IssuedKey is returned once; the raw key is never stored.
type IssuedKey struct {
	ID        string
	Key       string
	Prefix    string
	ExpiresAt time.Time
}

// Issue generates a key and stores its hash.
func (s *CachedKeyStore) Issue(ctx context.Context, nk NewKey) (*IssuedKey, error) {
	if nk.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	raw, err := GenerateKey(nk.Env)
	if err != nil {
		return nil, err
	}
	roles := nk.Roles
	if roles == nil {
		roles = []string{}
	}
	issued := &IssuedKey{
		ID:        uuid.NewString(),
		Key:       raw,
		Prefix:    KeyPrefix(raw),
		ExpiresAt: time.Now().Add(nk.ExpiresIn).UTC(),
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO api_keys (id, key_hash, key_prefix, user_id, name, roles, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, issued.ID, HashKey(raw), issued.Prefix, nk.UserID, nk.Name, roles, issued.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("insert api key: %w", err)
	}
	return issued, nil
}

// Revoke disables a key by id and drops it from the cache.
func (s *CachedKeyStore) Revoke(ctx context.Context, id string) error {
	var keyHash string
	err := s.db.QueryRow(ctx, `UPDATE api_keys SET status = 'revoked' WHERE id = $1 RETURNING key_hash`, id).Scan(&keyHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("api key %s not found", id)
		}
		return fmt.Errorf("revoke api key: %w", err)
	}
	if s.redis != nil {
		s.redis.Del(ctx, redisKeyPrefix+keyHash)
	}
	return nil
}
