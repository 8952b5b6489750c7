package errors

import (
	"errors"
	"fmt"
)

// Credential and token errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserBlocked        = errors.New("user is blocked")
	ErrMalformed          = errors.New("malformed token")
	ErrInvalidSignature   = errors.New("invalid token signature")
	ErrUnknownKeyID       = errors.New("unknown signing key id")
	ErrExpired            = errors.New("expired")
	ErrAudienceMismatch   = errors.New("audience mismatch")
	ErrIPMismatch         = errors.New("token bound to a different ip")
	ErrDeviceMismatch     = errors.New("token bound to a different device")
	ErrRevoked            = errors.New("revoked")
	ErrMissingClaim       = errors.New("missing required claim")
	ErrInvalidAPIKey      = errors.New("invalid api key")
)

// Login flow errors
var (
	ErrStateMismatch = errors.New("login state mismatch")
	ErrNonceMismatch = errors.New("nonce mismatch")
	ErrIdPError      = errors.New("identity provider error")
)

// Refresh token replay
var ErrReplayDetected = errors.New("refresh token replay detected")

// Discovery contract errors
var (
	ErrSchemaInvalid     = errors.New("discovery response schema invalid")
	ErrAppIDMismatch     = errors.New("discovery app_id does not match client_id")
	ErrDiscoveryTimeout  = errors.New("discovery request timed out")
	ErrDiscoveryFetch    = errors.New("discovery request failed")
	ErrDiscoveryDisabled = errors.New("discovery not enabled for application")
	ErrDiscoveryCooldown = errors.New("discovery skipped during cooldown")
)

// Policy errors
var (
	ErrScopeNotPermitted     = errors.New("requested scope not permitted")
	ErrDurationExceedsPolicy = errors.New("requested duration exceeds policy")
	ErrNoPolicy              = errors.New("no a2a policy for source and target")
)

// Authorization errors
var (
	ErrForbidden   = errors.New("forbidden")
	ErrInactiveApp = errors.New("application is not active")
)

// General errors
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternal       = errors.New("internal error")
	ErrUnsupported    = errors.New("unsupported operation")
)

// Kind groups errors by how callers must react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindAuthorization
	KindReplayDetected
	KindDiscoveryContract
	KindPolicyViolation
	KindNotFound
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication_error"
	case KindAuthorization:
		return "authorization_error"
	case KindReplayDetected:
		return "replay_detected"
	case KindDiscoveryContract:
		return "discovery_contract_error"
	case KindPolicyViolation:
		return "policy_violation"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation_error"
	default:
		return "internal_error"
	}
}

var kinds = []struct {
	kind    Kind
	targets []error
}{
	{KindReplayDetected, []error{ErrReplayDetected}},
	{KindAuthentication, []error{
		ErrInvalidCredentials, ErrUserBlocked, ErrMalformed, ErrInvalidSignature, ErrUnknownKeyID,
		ErrExpired, ErrAudienceMismatch, ErrIPMismatch, ErrDeviceMismatch, ErrRevoked,
		ErrInvalidAPIKey, ErrStateMismatch, ErrNonceMismatch, ErrIdPError,
	}},
	{KindDiscoveryContract, []error{
		ErrSchemaInvalid, ErrAppIDMismatch, ErrDiscoveryTimeout, ErrDiscoveryFetch, ErrDiscoveryDisabled, ErrDiscoveryCooldown,
	}},
	{KindPolicyViolation, []error{ErrScopeNotPermitted, ErrDurationExceedsPolicy, ErrNoPolicy}},
	{KindAuthorization, []error{ErrForbidden, ErrInactiveApp}},
	{KindNotFound, []error{ErrNotFound}},
	{KindValidation, []error{ErrInvalidRequest, ErrMissingClaim, ErrAlreadyExists, ErrUnsupported}},
}

// KindOf classifies err by the first sentinel found in its chain. Replay is
// checked first since a replay is also reported alongside a revocation.
func KindOf(err error) Kind {
	for _, k := range kinds {
		for _, target := range k.targets {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindInternal
}

// New returns an error that formats as the given text
func New(text string) error {
	return errors.New(text)
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join combines errors, see errors.Join
func Join(errs ...error) error {
	return errors.Join(errs...)
}
