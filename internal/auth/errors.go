package auth

import "errors"

var (
	// ErrInvalidCredentials indicates the identity backend rejected the
	// supplied email/password or refresh token.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNetwork indicates the identity backend could not be reached or
	// answered outside its contract.
	ErrNetwork = errors.New("identity backend unreachable")
	// ErrProfileMissing indicates valid credentials without a matching
	// profile record; the user is not considered authenticated.
	ErrProfileMissing = errors.New("user profile not found")
	// ErrProfileCreate indicates the credential identity was registered but
	// the profile record could not be written.
	ErrProfileCreate = errors.New("user profile creation failed")
	// ErrNotAuthenticated indicates an operation that requires a live
	// session was called without one.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrStorage indicates a persistence read or write failure. Load
	// failures degrade to "no session"; save failures leave the in-memory
	// session intact.
	ErrStorage = errors.New("session storage failure")
	// ErrUnexpected is the catch-all for failures outside the taxonomy.
	ErrUnexpected = errors.New("unexpected auth failure")
)
