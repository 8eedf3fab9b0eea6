package auth

import (
	"context"
	"time"
)

// Grant is a token grant minted by the identity backend. ExpiresAt carries
// the backend-provided absolute expiry.
type Grant struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Empty reports whether the backend returned identity without tokens, as
// happens when registration requires a separate confirmation step.
func (g *Grant) Empty() bool {
	return g == nil || g.AccessToken == ""
}

// IdentityBackend is the external credential service. Implementations own
// their own timeouts; any transport failure surfaces as ErrNetwork.
type IdentityBackend interface {
	// ExchangeCredentials validates email/password and mints a grant.
	ExchangeCredentials(ctx context.Context, email, password string) (*Grant, error)
	// Register creates a credential identity. The returned grant may be
	// empty when the backend requires confirmation before sign-in.
	Register(ctx context.Context, email, password string) (*Grant, error)
	// Refresh exchanges a refresh token for a fresh grant.
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
	// Revoke invalidates the grant behind the refresh token.
	Revoke(ctx context.Context, refreshToken string) error
	// ResetPassword starts the password recovery flow for the address.
	ResetPassword(ctx context.Context, email string) error
	// ChangePassword sets a new password for the bearer of accessToken.
	ChangePassword(ctx context.Context, accessToken, newPassword string) error
}

// ProfileRepository reads and writes the user-profile records that augment
// the bare credential identity.
type ProfileRepository interface {
	// Get returns the profile for the identity id, or an error wrapping
	// ErrProfileMissing when no record exists.
	Get(ctx context.Context, userID string) (*User, error)
	Create(ctx context.Context, user *User) error
	Update(ctx context.Context, userID string, patch ProfilePatch) error
	// TouchLastLogin stamps the profile's last sign-in time. Best effort
	// from the manager's perspective.
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}

// EventKind classifies externally observed auth state changes.
type EventKind string

const (
	// EventSignedOut reports a sign-out performed elsewhere; local state
	// must be dropped without revoking again.
	EventSignedOut EventKind = "signed_out"
	// EventRotated reports an external token rotation; the manager pulls
	// itself in sync through its own refresh path.
	EventRotated EventKind = "rotated"
)

// Event is one externally observed auth state change.
type Event struct {
	Kind EventKind `json:"kind"`
	At   time.Time `json:"at"`
}

// EventSource delivers externally observed auth events until the context is
// cancelled, after which the channel is closed.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// EventPublisher broadcasts auth events to sibling processes.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Backlog hands deferred reconciliation work to the background worker.
type Backlog interface {
	// EnqueueProfileReconcile retries creation of a profile record that
	// failed after its credential identity was already registered.
	EnqueueProfileReconcile(ctx context.Context, user User) error
	// EnqueueLastLoginStamp retries a failed last-login update.
	EnqueueLastLoginStamp(ctx context.Context, userID string, at time.Time) error
}
