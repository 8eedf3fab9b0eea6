package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/chacha20poly1305"
)

// Scope selects which persistence backend holds the session copy.
type Scope int

const (
	// ScopeDurable survives process restarts; chosen by "remember me".
	ScopeDurable Scope = iota
	// ScopeTransient lives only as long as the process.
	ScopeTransient
)

func (s Scope) String() string {
	if s == ScopeDurable {
		return "durable"
	}
	return "transient"
}

// Store is a single-slot key-value backend holding at most one sealed
// session blob. Load returns (nil, nil) when the slot is empty.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
	Clear(ctx context.Context) error
}

// MemoryStore is the transient backend. It dies with the process, which is
// exactly the behavior "remember me = false" asks for.
type MemoryStore struct {
	mu   sync.Mutex
	blob []byte
}

// NewMemoryStore constructs an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the held blob, if any.
func (m *MemoryStore) Load(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blob == nil {
		return nil, nil
	}
	return append([]byte(nil), m.blob...), nil
}

// Save overwrites the slot.
func (m *MemoryStore) Save(ctx context.Context, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = append([]byte(nil), blob...)
	return nil
}

// Clear empties the slot.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = nil
	return nil
}

// RedisStore is the durable backend, one well-known key in Redis.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore constructs a store over the given key.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// Load fetches the blob under the session key.
func (r *RedisStore) Load(ctx context.Context) ([]byte, error) {
	blob, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis load %s: %w", r.key, ErrStorage)
	}
	return blob, nil
}

// Save overwrites the session key. No TTL: validity is enforced on load.
func (r *RedisStore) Save(ctx context.Context, blob []byte) error {
	if err := r.client.Set(ctx, r.key, blob, 0).Err(); err != nil {
		return fmt.Errorf("redis save %s: %w", r.key, ErrStorage)
	}
	return nil
}

// Clear removes the session key.
func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis clear %s: %w", r.key, ErrStorage)
	}
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// Vault persists the live session into one of two scoped backends. Blobs are
// sealed at rest with a key derived from the configured session secret; a
// blob that fails to unseal or decode is treated as an absent session.
type Vault struct {
	durable   Store
	transient Store
	aeadKey   [32]byte
}

// NewVault constructs a vault over the two scoped stores.
func NewVault(durable, transient Store, secret []byte) (*Vault, error) {
	if durable == nil || transient == nil {
		return nil, errors.New("vault: both stores are required")
	}
	if len(secret) == 0 {
		return nil, errors.New("vault: secret is required")
	}
	return &Vault{
		durable:   durable,
		transient: transient,
		aeadKey:   sha256.Sum256(secret),
	}, nil
}

func (v *Vault) store(scope Scope) Store {
	if scope == ScopeDurable {
		return v.durable
	}
	return v.transient
}

func (v *Vault) other(scope Scope) Store {
	if scope == ScopeDurable {
		return v.transient
	}
	return v.durable
}

// Save writes the whole session into the chosen scope and clears the other
// one, so at most one persisted copy exists at any time.
func (v *Vault) Save(ctx context.Context, scope Scope, sess *Session) error {
	blob, err := v.seal(sess)
	if err != nil {
		return err
	}
	if err := v.store(scope).Save(ctx, blob); err != nil {
		return err
	}
	return v.other(scope).Clear(ctx)
}

// Load restores a prior session, trying durable first. Blobs that cannot be
// unsealed or decoded are discarded and their slot cleared.
func (v *Vault) Load(ctx context.Context) (*Session, Scope, error) {
	for _, scope := range []Scope{ScopeDurable, ScopeTransient} {
		blob, err := v.store(scope).Load(ctx)
		if err != nil {
			return nil, scope, err
		}
		if blob == nil {
			continue
		}
		sess, err := v.open(blob)
		if err != nil {
			// Garbage in storage is "no session", not an error.
			_ = v.store(scope).Clear(ctx)
			continue
		}
		return sess, scope, nil
	}
	return nil, ScopeTransient, nil
}

// ClearAll erases persisted copies in both scopes unconditionally.
func (v *Vault) ClearAll(ctx context.Context) error {
	errDurable := v.durable.Clear(ctx)
	errTransient := v.transient.Clear(ctx)
	return errors.Join(errDurable, errTransient)
}

func (v *Vault) seal(sess *Session) ([]byte, error) {
	plain, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("seal session: %w", err)
	}
	aead, err := chacha20poly1305.NewX(v.aeadKey[:])
	if err != nil {
		return nil, fmt.Errorf("seal session: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal session: %w", err)
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func (v *Vault) open(blob []byte) (*Session, error) {
	aead, err := chacha20poly1305.NewX(v.aeadKey[:])
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, errors.New("session blob truncated")
	}
	nonce, sealed := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(plain, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}
