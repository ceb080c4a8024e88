package remote

import "errors"

var (
	ErrNetwork           = errors.New("remote: network failure")
	ErrProtocol          = errors.New("remote: unexpected response")
	ErrUnauthorized      = errors.New("remote: unauthorized")
	ErrRateLimited       = errors.New("remote: rate limited")
	ErrNotFound          = errors.New("remote: not found")
	ErrNoPlayableVariant = errors.New("remote: no playable variant")
	ErrNoAccount         = errors.New("remote: account not resolved")
	ErrNoBatch           = errors.New("remote: no batch id")
)

func IsNetwork(err error) bool           { return errors.Is(err, ErrNetwork) }
func IsProtocol(err error) bool          { return errors.Is(err, ErrProtocol) }
func IsUnauthorized(err error) bool      { return errors.Is(err, ErrUnauthorized) }
func IsRateLimited(err error) bool       { return errors.Is(err, ErrRateLimited) }
func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }
func IsNoPlayableVariant(err error) bool { return errors.Is(err, ErrNoPlayableVariant) }

// IsTransient reports whether retrying the same call may succeed.
func IsTransient(err error) bool {
	return IsNetwork(err) || IsRateLimited(err)
}
