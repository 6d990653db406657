package tempaccess

import "errors"

// Custom errors
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("grant not found")
	ErrUsernameTaken   = errors.New("username already in use")
	ErrVersionConflict = errors.New("grant was modified concurrently")
	ErrUnauthorized    = errors.New("root authority required")
	ErrGrantExpired    = errors.New("grant has expired")
	ErrLockedOut       = errors.New("grant locked out after repeated failed logins")
	ErrGrantNotUsable  = errors.New("grant is not active")
	ErrSessionClosed   = errors.New("session already closed")
	ErrSessionNotFound = errors.New("session not found")
)
