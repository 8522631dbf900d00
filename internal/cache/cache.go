// Package cache stores provider results keyed by a request fingerprint so that
// identical requests are answered without a provider call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/af-corp/inkwell/internal/clock"
	"github.com/af-corp/inkwell/internal/types"
)

// MaxKeyLength bounds every key handed to a backend.
const MaxKeyLength = 250

const defaultPrefix = "inkwell:v1:"

// Entry is one cached result. ExpiresAt is always after CreatedAt.
type Entry struct {
	Key       string                `json:"key"`
	Value     *types.ProviderResult `json:"value"`
	CreatedAt time.Time             `json:"created_at"`
	ExpiresAt time.Time             `json:"expires_at"`
}

func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Backend is a key/value store for entries. Backends may expire entries on
// their own; the Manager enforces expiry on read regardless.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, key string) (bool, error)
	Flush(ctx context.Context) error
}

// Pruner is implemented by backends that can drop expired entries in bulk.
type Pruner interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Counter is implemented by backends that can report how many entries they hold.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

type Options struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
	Clock   clock.Clock
}

type Stats struct {
	Enabled  bool    `json:"enabled"`
	Backend  string  `json:"backend"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	Writes   int64   `json:"writes"`
	Deletes  int64   `json:"deletes"`
	Errors   int64   `json:"errors"`
	HitRatio float64 `json:"hit_ratio"`
}

// Manager wraps a Backend with fingerprinting, TTL enforcement and statistics.
// Backend failures never surface to callers: reads become misses and writes
// become no-ops.
type Manager struct {
	backend Backend
	enabled bool
	ttl     time.Duration
	prefix  string
	clock   clock.Clock

	hits, misses, writes, deletes, errors atomic.Int64
}

func NewManager(backend Backend, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	return &Manager{
		backend: backend,
		enabled: opts.Enabled && backend != nil,
		ttl:     opts.TTL,
		prefix:  sanitizePrefix(opts.Prefix),
		clock:   opts.Clock,
	}
}

func (m *Manager) Enabled() bool { return m.enabled }

func (m *Manager) DefaultTTL() time.Duration { return m.ttl }

// Key returns the fingerprint of req under this manager's prefix.
func (m *Manager) Key(req *types.NormalizedRequest) string {
	return m.prefix + Fingerprint(req)
}

func (m *Manager) Get(ctx context.Context, key string) (*types.ProviderResult, bool) {
	if !m.enabled || !validKey(key) {
		m.misses.Add(1)
		return nil, false
	}

	e, ok, err := m.backend.Get(ctx, key)
	if err != nil {
		m.errors.Add(1)
		m.misses.Add(1)
		slog.Warn("cache get failed, treating as miss", "backend", m.backend.Name(), "error", err)
		return nil, false
	}
	if !ok || e == nil || e.Value == nil {
		m.misses.Add(1)
		return nil, false
	}
	if e.Expired(m.clock.Now()) {
		m.misses.Add(1)
		if _, err := m.backend.Delete(ctx, key); err != nil {
			m.errors.Add(1)
		}
		return nil, false
	}

	m.hits.Add(1)
	return e.Value.Clone(), true
}

// Set stores value under key for ttl (the default TTL when ttl <= 0).
// It reports whether the value was stored.
func (m *Manager) Set(ctx context.Context, key string, value *types.ProviderResult, ttl time.Duration) bool {
	if !m.enabled || value == nil || !validKey(key) {
		return false
	}
	if ttl <= 0 {
		ttl = m.ttl
	}
	now := m.clock.Now()
	e := &Entry{Key: key, Value: value.Clone(), CreatedAt: now, ExpiresAt: now.Add(ttl)}
	if err := m.backend.Set(ctx, e); err != nil {
		m.errors.Add(1)
		slog.Warn("cache set failed", "backend", m.backend.Name(), "error", err)
		return false
	}
	m.writes.Add(1)
	return true
}

// Delete removes key and reports whether an entry was removed.
func (m *Manager) Delete(ctx context.Context, key string) bool {
	if !m.enabled || !validKey(key) {
		return false
	}
	ok, err := m.backend.Delete(ctx, key)
	if err != nil {
		m.errors.Add(1)
		slog.Warn("cache delete failed", "backend", m.backend.Name(), "error", err)
		return false
	}
	if ok {
		m.deletes.Add(1)
	}
	return ok
}

func (m *Manager) Flush(ctx context.Context) bool {
	if !m.enabled {
		return false
	}
	if err := m.backend.Flush(ctx); err != nil {
		m.errors.Add(1)
		slog.Warn("cache flush failed", "backend", m.backend.Name(), "error", err)
		return false
	}
	return true
}

// PurgeExpired drops expired entries when the backend supports it.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	p, ok := m.backend.(Pruner)
	if !m.enabled || !ok {
		return 0, nil
	}
	return p.PurgeExpired(ctx, m.clock.Now())
}

// Entries reports the number of stored entries, or false when the backend
// cannot count them.
func (m *Manager) Entries(ctx context.Context) (int64, bool) {
	c, ok := m.backend.(Counter)
	if !ok {
		return 0, false
	}
	n, err := c.Count(ctx)
	if err != nil {
		m.errors.Add(1)
		slog.Warn("cache count failed", "backend", m.backend.Name(), "error", err)
		return 0, false
	}
	return n, true
}

func (m *Manager) Stats() Stats {
	s := Stats{
		Enabled: m.enabled,
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
		Writes:  m.writes.Load(),
		Deletes: m.deletes.Load(),
		Errors:  m.errors.Load(),
	}
	if m.backend != nil {
		s.Backend = m.backend.Name()
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRatio = float64(s.Hits) / float64(total)
	}
	return s
}

type fingerprintInput struct {
	Operation   types.Operation `json:"op"`
	Content     string          `json:"content"`
	Temperature string          `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	Model       string          `json:"model"`
	Extra       map[string]any  `json:"extra"`
}

// Fingerprint derives a stable hex digest from the operation, content and
// parameters of req. Map keys are serialized in sorted order, so equal
// requests always produce equal digests. An empty extra map counts as absent.
func Fingerprint(req *types.NormalizedRequest) string {
	extra := req.Parameters.Extra
	if len(extra) == 0 {
		extra = nil
	}
	in := fingerprintInput{
		Operation:   req.Operation,
		Content:     req.Content,
		Temperature: strconv.FormatFloat(req.Parameters.Temperature, 'f', -1, 64),
		MaxTokens:   req.Parameters.MaxTokens,
		Model:       req.Parameters.Model,
		Extra:       extra,
	}
	data, err := json.Marshal(in)
	if err != nil {
		// Unserializable extras fall back to their printed form.
		in.Extra = nil
		data, _ = json.Marshal(in)
		data = append(data, []byte(stringifyExtra(req.Parameters.Extra))...)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func stringifyExtra(extra map[string]any) string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(fmt.Sprint(extra[k])))
		b.WriteByte(';')
	}
	return b.String()
}

func sanitizePrefix(p string) string {
	if p == "" {
		return defaultPrefix
	}
	var b strings.Builder
	for _, r := range strings.ToLower(p) {
		if isKeyRune(r) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}

func validKey(key string) bool {
	if key == "" || len(key) > MaxKeyLength {
		return false
	}
	for _, r := range key {
		if !isKeyRune(r) {
			return false
		}
	}
	return true
}

func isKeyRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ':' || r == '_' || r == '-'
}
