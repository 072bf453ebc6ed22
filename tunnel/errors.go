package tunnel

import "errors"

// Common errors returned by the package. Negotiation failures keep
// their package negotiate identities (negotiate.ErrAuthUnavailable,
// negotiate.StatusError and friends) so callers can match on them.
var (
	// ErrProxyConnect is returned when the proxy connection cannot be
	// established or breaks during negotiation.
	ErrProxyConnect = errors.New("tunnel: proxy connection failed")

	// ErrInvalidTarget is returned when the destination address is
	// missing or malformed.
	ErrInvalidTarget = errors.New("tunnel: invalid target address")

	// ErrUnsupportedNetwork is returned for networks other than tcp,
	// tcp4 and tcp6.
	ErrUnsupportedNetwork = errors.New("tunnel: unsupported network")
)
