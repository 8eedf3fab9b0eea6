package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexofis/lexofis/internal/auth"
)

func sampleSession() *auth.Session {
	return &auth.Session{
		User: auth.User{
			ID:              testUserID,
			Email:           "avukat@lexofis.local",
			Name:            "Deniz Avukat",
			Role:            auth.RoleProfessional,
			IsActive:        true,
			PrivacyConsents: []string{"kvkk_basic"},
		},
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    baseTime.Add(time.Hour),
	}
}

func TestVaultSaveLoadRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	vault, err := auth.NewVault(
		auth.NewRedisStore(client, testSessionKey),
		auth.NewMemoryStore(),
		[]byte("vault-secret"),
	)
	require.NoError(t, err)

	ctx := context.Background()
	want := sampleSession()
	require.NoError(t, vault.Save(ctx, auth.ScopeDurable, want))

	got, scope, err := vault.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, auth.ScopeDurable, scope)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.Equal(t, want.User.ID, got.User.ID)
	assert.Equal(t, want.User.Email, got.User.Email)
	assert.Equal(t, want.User.Role, got.User.Role)
	assert.Equal(t, want.User.PrivacyConsents, got.User.PrivacyConsents)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
}

func TestVaultBlobIsSealedAtRest(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	vault, err := auth.NewVault(
		auth.NewRedisStore(client, testSessionKey),
		auth.NewMemoryStore(),
		[]byte("vault-secret"),
	)
	require.NoError(t, err)

	require.NoError(t, vault.Save(context.Background(), auth.ScopeDurable, sampleSession()))

	raw, err := mr.Get(testSessionKey)
	require.NoError(t, err)
	assert.NotContains(t, raw, "refresh-1")
	assert.NotContains(t, raw, "avukat@lexofis.local")
}

func TestVaultTamperedBlobIsAbsentSession(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	vault, err := auth.NewVault(
		auth.NewRedisStore(client, testSessionKey),
		auth.NewMemoryStore(),
		[]byte("vault-secret"),
	)
	require.NoError(t, err)

	require.NoError(t, mr.Set(testSessionKey, "not a sealed blob"))

	sess, _, err := vault.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
	// The garbage slot was cleaned up on the way out.
	assert.False(t, mr.Exists(testSessionKey))
}

func TestVaultWrongSecretDiscardsBlob(t *testing.T) {
	durable := auth.NewMemoryStore()

	writer, err := auth.NewVault(durable, auth.NewMemoryStore(), []byte("secret-a"))
	require.NoError(t, err)
	require.NoError(t, writer.Save(context.Background(), auth.ScopeDurable, sampleSession()))

	reader, err := auth.NewVault(durable, auth.NewMemoryStore(), []byte("secret-b"))
	require.NoError(t, err)

	sess, _, err := reader.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestVaultDurableWinsOverTransient(t *testing.T) {
	durable := auth.NewMemoryStore()
	transient := auth.NewMemoryStore()
	ctx := context.Background()

	// Seed each scope through a vault that only knows about that store, so
	// both slots are populated at once.
	durableOnly, err := auth.NewVault(durable, auth.NewMemoryStore(), []byte("vault-secret"))
	require.NoError(t, err)
	durableSess := sampleSession()
	durableSess.AccessToken = "access-durable"
	require.NoError(t, durableOnly.Save(ctx, auth.ScopeDurable, durableSess))

	transientOnly, err := auth.NewVault(auth.NewMemoryStore(), transient, []byte("vault-secret"))
	require.NoError(t, err)
	transientSess := sampleSession()
	transientSess.AccessToken = "access-transient"
	require.NoError(t, transientOnly.Save(ctx, auth.ScopeTransient, transientSess))

	vault, err := auth.NewVault(durable, transient, []byte("vault-secret"))
	require.NoError(t, err)
	got, scope, err := vault.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, auth.ScopeDurable, scope)
	assert.Equal(t, "access-durable", got.AccessToken)
}

func TestVaultSaveClearsOtherScope(t *testing.T) {
	durable := auth.NewMemoryStore()
	transient := auth.NewMemoryStore()
	ctx := context.Background()

	vault, err := auth.NewVault(durable, transient, []byte("vault-secret"))
	require.NoError(t, err)

	require.NoError(t, vault.Save(ctx, auth.ScopeDurable, sampleSession()))
	require.NoError(t, vault.Save(ctx, auth.ScopeTransient, sampleSession()))

	blob, err := durable.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, blob)

	blob, err = transient.Load(ctx)
	require.NoError(t, err)
	assert.NotNil(t, blob)
}

func TestVaultClearAll(t *testing.T) {
	durable := auth.NewMemoryStore()
	transient := auth.NewMemoryStore()
	ctx := context.Background()

	vault, err := auth.NewVault(durable, transient, []byte("vault-secret"))
	require.NoError(t, err)
	require.NoError(t, vault.Save(ctx, auth.ScopeDurable, sampleSession()))

	require.NoError(t, vault.ClearAll(ctx))

	sess, _, err := vault.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestVaultRequiresSecret(t *testing.T) {
	_, err := auth.NewVault(auth.NewMemoryStore(), auth.NewMemoryStore(), nil)
	require.Error(t, err)
}

func TestRedisStoreEmptySlot(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := auth.NewRedisStore(client, testSessionKey)
	blob, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, blob)

	// Clearing an empty slot is fine.
	require.NoError(t, store.Clear(context.Background()))
}

func TestRedisStoreUnavailableIsStorageError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	store := auth.NewRedisStore(client, testSessionKey)
	_, err := store.Load(context.Background())
	require.ErrorIs(t, err, auth.ErrStorage)
}

func TestMemoryStoreCopiesBlobs(t *testing.T) {
	store := auth.NewMemoryStore()
	ctx := context.Background()

	blob := []byte("payload")
	require.NoError(t, store.Save(ctx, blob))
	blob[0] = 'X'

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestSessionValidityThreshold(t *testing.T) {
	sess := sampleSession()
	threshold := 5 * time.Minute

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"well before expiry", baseTime, true},
		{"just outside threshold", baseTime.Add(54 * time.Minute), true},
		{"inside threshold", baseTime.Add(56 * time.Minute), false},
		{"at expiry", baseTime.Add(time.Hour), false},
		{"after expiry", baseTime.Add(2 * time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sess.ValidAt(tc.now, threshold))
		})
	}

	var nilSess *auth.Session
	assert.False(t, nilSess.ValidAt(baseTime, threshold))
}
