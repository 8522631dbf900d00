package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/af-corp/inkwell/internal/types"
)

// keyRandomBytes is the entropy of a generated key, hex encoded.
const keyRandomBytes = 24

// GenerateKey creates a new API key of the form inkwell-{env}-{48 hex chars}.
func GenerateKey(env string) (string, error) {
	switch env {
	case "dev", "staging", "prod":
	default:
		return "", fmt.Errorf("unknown key environment %q", env)
	}
	b := make([]byte, keyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random: %w", err)
	}
	return fmt.Sprintf("inkwell-%s-%s", env, hex.EncodeToString(b)), nil
}

// HashKey returns the SHA-256 hex digest of an API key.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// KeyPrefix returns a display-safe prefix: inkwell-{env}-{first 8 chars}.
func KeyPrefix(key string) string {
	parts := strings.SplitN(key, "-", 3)
	if len(parts) != 3 {
		if len(key) > 16 {
			return key[:16]
		}
		return key
	}
	random := parts[2]
	if len(random) > 8 {
		random = random[:8]
	}
	return parts[0] + "-" + parts[1] + "-" + random
}

// KeyMetadata is what an API key resolves to.
type KeyMetadata struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (km *KeyMetadata) Actor() types.Actor {
	return types.Actor{ID: km.UserID, Roles: append([]string(nil), km.Roles...)}
}

func (km *KeyMetadata) Expired(now time.Time) bool {
	return !km.ExpiresAt.IsZero() && !now.Before(km.ExpiresAt)
}

// ParseDuration parses a duration string like "365d", "30d" or "24h".
func ParseDuration(s string) (time.Duration, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty duration")
	}
	if strings.HasSuffix(s, "d") {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err != nil {
			return 0, fmt.Errorf("parse days: %w", err)
		}
		if days <= 0 {
			return 0, fmt.Errorf("duration must be positive")
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
