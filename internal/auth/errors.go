package auth

import "errors"

var (
	// ErrAuthTimeout means no authorization code arrived before the login deadline.
	ErrAuthTimeout = errors.New("timed out waiting for authorization")
	// ErrBrowserLaunch means the system browser could not be opened.
	ErrBrowserLaunch = errors.New("failed to open browser")
	// ErrNetwork means the token endpoint could not be reached.
	ErrNetwork = errors.New("network error")
	// ErrProvider means the provider rejected a request or sent an unusable reply.
	ErrProvider = errors.New("provider error")
	// ErrNoStoredToken means no token is stored for the user.
	ErrNoStoredToken = errors.New("no stored token")
	// ErrMissingRefreshToken means a refresh is due but no refresh token was stored.
	ErrMissingRefreshToken = errors.New("missing refresh token")
	// ErrStore means the credential store failed.
	ErrStore = errors.New("credential store error")
)
