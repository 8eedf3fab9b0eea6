package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/secure/precis"
)

// DefaultRefreshThreshold is the lookahead window within which a session is
// treated as invalid so callers refresh before the hard expiry.
const DefaultRefreshThreshold = 5 * time.Minute

// ManagerParams collects the collaborators of a Manager. Backend, Profiles
// and Vault are required; Events and Queue are optional.
type ManagerParams struct {
	Backend  IdentityBackend
	Profiles ProfileRepository
	Vault    *Vault
	Events   EventPublisher
	Queue    Backlog
	Logger   *slog.Logger

	// RefreshThreshold defaults to DefaultRefreshThreshold.
	RefreshThreshold time.Duration
	// Clock defaults to time.Now; injectable for tests.
	Clock func() time.Time
}

// Manager owns the single live session and is its sole mutator. Mutating
// operations serialize their commits on the slot lock but never hold it
// across a network round-trip; reads never block on in-flight calls.
type Manager struct {
	backend   IdentityBackend
	profiles  ProfileRepository
	vault     *Vault
	events    EventPublisher
	queue     Backlog
	logger    *slog.Logger
	threshold time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	current *Session
	epoch   uuid.UUID
	scope   Scope

	refreshGroup singleflight.Group
}

// NewManager constructs a Manager.
func NewManager(p ManagerParams) (*Manager, error) {
	if p.Backend == nil || p.Profiles == nil || p.Vault == nil {
		return nil, errors.New("auth: backend, profiles and vault are required")
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.RefreshThreshold <= 0 {
		p.RefreshThreshold = DefaultRefreshThreshold
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	return &Manager{
		backend:   p.Backend,
		profiles:  p.Profiles,
		vault:     p.Vault,
		events:    p.Events,
		queue:     p.Queue,
		logger:    p.Logger,
		threshold: p.RefreshThreshold,
		now:       p.Clock,
	}, nil
}

// Restore loads a previously persisted session at startup, durable scope
// first. Sessions that no longer pass the validity check are discarded and
// storage is wiped rather than surfaced as almost-expired.
func (m *Manager) Restore(ctx context.Context) error {
	sess, scope, err := m.vault.Load(ctx)
	if err != nil {
		// Unreadable storage degrades to "no session".
		m.logger.Warn("session restore", slog.Any("error", err))
		return nil
	}
	if sess == nil {
		return nil
	}
	if !sess.ValidAt(m.now(), m.threshold) {
		if err := m.vault.ClearAll(ctx); err != nil {
			m.logger.Warn("clear stale session", slog.Any("error", err))
		}
		return nil
	}
	m.install(sess, scope)
	return nil
}

// SignIn exchanges credentials, loads the profile and replaces any existing
// session. rememberMe selects the durable persistence scope.
func (m *Manager) SignIn(ctx context.Context, email, password string, rememberMe bool) (*User, error) {
	email = normalizeEmail(email)

	grant, err := m.backend.ExchangeCredentials(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}

	user, err := m.profiles.Get(ctx, grant.UserID)
	if err != nil {
		// Valid credentials without a profile are a hard failure.
		return nil, fmt.Errorf("sign in: %w", err)
	}

	sess := &Session{
		User:         *user,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    grant.ExpiresAt,
	}
	scope := ScopeTransient
	if rememberMe {
		scope = ScopeDurable
	}
	m.install(sess, scope)
	m.persist(ctx, scope, sess)
	m.stampLastLogin(ctx, user.ID)

	return user.Clone(), nil
}

// SignUp registers the credential identity and creates its profile record.
// A session is established only when the backend returns a grant with the
// registration; otherwise callers sign in separately.
func (m *Manager) SignUp(ctx context.Context, email, password, name string, role Role) (*User, error) {
	email = normalizeEmail(email)
	if role == "" {
		role = RoleStaff
	}
	if !role.Valid() {
		return nil, fmt.Errorf("sign up: role %q: %w", role, ErrUnexpected)
	}

	grant, err := m.backend.Register(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}

	user := &User{
		ID:              grant.UserID,
		Email:           email,
		Name:            name,
		Role:            role,
		CreatedAt:       m.now(),
		IsActive:        true,
		PrivacyConsents: []string{},
	}
	if err := m.profiles.Create(ctx, user); err != nil {
		// The credential identity exists without a profile now. Hand the
		// repair to the background worker instead of attempting a
		// client-side rollback of a server-side identity.
		m.logger.Error("create profile after sign up",
			slog.String("user_id", user.ID), slog.Any("error", err))
		if m.queue != nil {
			if qerr := m.queue.EnqueueProfileReconcile(ctx, *user); qerr != nil {
				m.logger.Error("enqueue profile reconcile", slog.Any("error", qerr))
			}
		}
		return nil, fmt.Errorf("sign up: %w", ErrProfileCreate)
	}

	if !grant.Empty() {
		sess := &Session{
			User:         *user,
			AccessToken:  grant.AccessToken,
			RefreshToken: grant.RefreshToken,
			ExpiresAt:    grant.ExpiresAt,
		}
		// No remember-me consent was given during registration.
		m.install(sess, ScopeTransient)
		m.persist(ctx, ScopeTransient, sess)
	}

	return user.Clone(), nil
}

// SignOut clears the session and erases both persisted copies regardless of
// which scope held the live one, then revokes the grant with the backend.
// Local state is gone even when the revoke fails. Calling SignOut without a
// session is a no-op.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	sess := m.current
	m.current = nil
	m.epoch = uuid.Nil
	m.mu.Unlock()

	if err := m.vault.ClearAll(ctx); err != nil {
		m.logger.Warn("clear persisted session", slog.Any("error", err))
	}
	if sess == nil {
		return nil
	}

	m.publish(ctx, Event{Kind: EventSignedOut, At: m.now()})

	if err := m.backend.Revoke(ctx, sess.RefreshToken); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// ReconcileSignOut mirrors SignOut for an externally observed sign-out: the
// grant was already revoked elsewhere, so only local and persisted state is
// dropped.
func (m *Manager) ReconcileSignOut(ctx context.Context) {
	m.mu.Lock()
	m.current = nil
	m.epoch = uuid.Nil
	m.mu.Unlock()

	if err := m.vault.ClearAll(ctx); err != nil {
		m.logger.Warn("clear persisted session", slog.Any("error", err))
	}
}

// RefreshSession exchanges the held refresh token for fresh tokens and
// mutates the session in place. Concurrent calls collapse into one backend
// round-trip. A failed refresh forces sign-out: an unrefreshable session is
// never treated as valid.
func (m *Manager) RefreshSession(ctx context.Context) error {
	_, err, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		return nil, m.refreshOnce(ctx)
	})
	return err
}

func (m *Manager) refreshOnce(ctx context.Context) error {
	m.mu.RLock()
	sess := m.current
	epoch := m.epoch
	scope := m.scope
	m.mu.RUnlock()
	if sess == nil {
		return fmt.Errorf("refresh session: %w", ErrNotAuthenticated)
	}
	token := sess.RefreshToken

	grant, err := m.backend.Refresh(ctx, token)
	if err != nil {
		m.mu.Lock()
		cleared := false
		if m.epoch == epoch {
			m.current = nil
			m.epoch = uuid.Nil
			cleared = true
		}
		m.mu.Unlock()
		if cleared {
			if cerr := m.vault.ClearAll(ctx); cerr != nil {
				m.logger.Warn("clear persisted session", slog.Any("error", cerr))
			}
		}
		return fmt.Errorf("refresh session: %w", err)
	}

	m.mu.Lock()
	if m.epoch != epoch {
		// The session was signed out or replaced while the refresh was in
		// flight; that mutation wins and this result is discarded.
		live := m.current != nil
		m.mu.Unlock()
		if !live {
			return fmt.Errorf("refresh session: %w", ErrNotAuthenticated)
		}
		return nil
	}
	m.current.AccessToken = grant.AccessToken
	m.current.RefreshToken = grant.RefreshToken
	m.current.ExpiresAt = grant.ExpiresAt
	snap := m.current.Clone()
	m.mu.Unlock()

	m.persist(ctx, scope, snap)
	return nil
}

// UpdateProfile writes the patch to the profile repository and, on success,
// merges it into the live session's user snapshot and re-persists.
func (m *Manager) UpdateProfile(ctx context.Context, patch ProfilePatch) (*User, error) {
	m.mu.RLock()
	sess := m.current
	epoch := m.epoch
	scope := m.scope
	m.mu.RUnlock()
	if sess == nil {
		return nil, fmt.Errorf("update profile: %w", ErrNotAuthenticated)
	}
	userID := sess.User.ID

	if err := m.profiles.Update(ctx, userID, patch); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return nil, fmt.Errorf("update profile: %w", ErrNotAuthenticated)
	}
	applyPatch(&m.current.User, patch)
	snap := m.current.Clone()
	m.mu.Unlock()

	m.persist(ctx, scope, snap)
	return snap.User.Clone(), nil
}

// ResetPassword starts the recovery flow; no session required.
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	if err := m.backend.ResetPassword(ctx, normalizeEmail(email)); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	return nil
}

// ChangePassword sets a new password for the signed-in user.
func (m *Manager) ChangePassword(ctx context.Context, newPassword string) error {
	m.mu.RLock()
	sess := m.current
	m.mu.RUnlock()
	if sess == nil {
		return fmt.Errorf("change password: %w", ErrNotAuthenticated)
	}
	if err := m.backend.ChangePassword(ctx, sess.AccessToken, newPassword); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	return nil
}

// CurrentUser returns the live session's user snapshot, or nil.
func (m *Manager) CurrentUser() *User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	return m.current.User.Clone()
}

// IsAuthenticated reports whether a session exists and still clears the
// refresh threshold. Sessions inside the lookahead window report false even
// though their tokens have not technically expired yet.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.ValidAt(m.now(), m.threshold)
}

// AccessToken returns the bearer token of the live session for forwarding to
// downstream services, or "" when signed out.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.AccessToken
}

func (m *Manager) install(sess *Session, scope Scope) {
	m.mu.Lock()
	m.current = sess.Clone()
	m.epoch = uuid.New()
	m.scope = scope
	m.mu.Unlock()
}

// persist writes the whole session; a storage failure never fails the
// calling operation, the session stays valid in memory.
func (m *Manager) persist(ctx context.Context, scope Scope, sess *Session) {
	if err := m.vault.Save(ctx, scope, sess); err != nil {
		m.logger.Warn("persist session",
			slog.String("scope", scope.String()), slog.Any("error", err))
	}
}

func (m *Manager) publish(ctx context.Context, ev Event) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, ev); err != nil {
		m.logger.Warn("publish auth event",
			slog.String("kind", string(ev.Kind)), slog.Any("error", err))
	}
}

func (m *Manager) stampLastLogin(ctx context.Context, userID string) {
	at := m.now()
	if err := m.profiles.TouchLastLogin(ctx, userID, at); err != nil {
		m.logger.Warn("update last login",
			slog.String("user_id", userID), slog.Any("error", err))
		if m.queue != nil {
			if qerr := m.queue.EnqueueLastLoginStamp(ctx, userID, at); qerr != nil {
				m.logger.Warn("enqueue last login stamp", slog.Any("error", qerr))
			}
		}
	}
}

func applyPatch(u *User, patch ProfilePatch) {
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Avatar != nil {
		u.Avatar = *patch.Avatar
	}
	for _, consent := range patch.GrantConsents {
		if !containsString(u.PrivacyConsents, consent) {
			u.PrivacyConsents = append(u.PrivacyConsents, consent)
		}
	}
}

func containsString(set []string, want string) bool {
	for _, s := range set {
		if s == want {
			return true
		}
	}
	return false
}

// normalizeEmail case-folds the sign-in handle so lookups at the backend are
// stable across input variants.
func normalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	if normalized, err := precis.UsernameCaseMapped.String(email); err == nil {
		return normalized
	}
	return strings.ToLower(email)
}
