package jwt

import (
	"context"
	"slices"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/cids/audit"
	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/internal/ids"
	"github.com/jrsteele09/cids/internal/metrics"
	"github.com/jrsteele09/cids/token"
	"github.com/jrsteele09/cids/token/keys"
)

// Issued is a freshly signed token.
type Issued struct {
	Token     string
	JTI       string
	KeyID     string
	ExpiresAt time.Time
	ExpiresIn int64
}

type CodecOption func(*Codec)

func WithRevocationList(list token.RevocationList) CodecOption {
	return func(c *Codec) {
		c.revocations = list
	}
}

func WithAuditor(recorder audit.Recorder) CodecOption {
	return func(c *Codec) {
		c.auditor = recorder
	}
}

// WithServiceProxyClasses names the caller classes that may present an
// IP-bound token from another address.
func WithServiceProxyClasses(classes ...string) CodecOption {
	return func(c *Codec) {
		c.proxyClasses = classes
	}
}

func WithMetrics(m *metrics.Metrics) CodecOption {
	return func(c *Codec) {
		c.metrics = m
	}
}

func WithNowTime(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

// Codec issues and verifies RS256 access and service tokens.
type Codec struct {
	keys         *keys.Manager
	issuer       string
	accessTTL    time.Duration
	revocations  token.RevocationList
	auditor      audit.Recorder
	proxyClasses []string
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewCodec(keyManager *keys.Manager, issuer string, accessTTL time.Duration, opts ...CodecOption) (*Codec, error) {
	if keyManager == nil {
		return nil, errors.New("[NewCodec] key manager is required")
	}
	if issuer == "" {
		return nil, errors.New("[NewCodec] issuer is required")
	}
	if accessTTL <= 0 {
		return nil, errors.New("[NewCodec] access token ttl must be positive")
	}
	c := &Codec{
		keys:      keyManager,
		issuer:    issuer,
		accessTTL: accessTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Codec) Issuer() string {
	return c.issuer
}

// IssueAccessToken signs a user access token. Issued-at and expiry are
// always computed here.
func (c *Codec) IssueAccessToken(ctx context.Context, in ClaimsInput) (*Issued, error) {
	if strings.TrimSpace(in.Subject) == "" {
		return nil, errors.Wrapf(errors.ErrMissingClaim, "sub")
	}
	if len(in.Audience) == 0 {
		return nil, errors.Wrapf(errors.ErrMissingClaim, "aud")
	}

	claims := &Claims{
		Email:       in.Email,
		Name:        in.Name,
		Groups:      in.Groups,
		TokenType:   TokenTypeUser,
		BoundIP:     in.BoundIP,
		BoundDevice: DeviceHash(in.DeviceFingerprint),
		Roles:       in.Roles,
		Permissions: in.Permissions,
		RLSFilters:  in.RLSFilters,
	}
	claims.Subject = in.Subject
	claims.Audience = jwtlib.ClaimStrings(in.Audience)

	issued, err := c.sign(ctx, claims, c.accessTTL)
	if err != nil {
		return nil, err
	}
	c.metrics.TokenIssued(TokenTypeUser)
	return issued, nil
}

// IssueServiceToken signs an application-to-application token whose only
// audience is the target application.
func (c *Codec) IssueServiceToken(ctx context.Context, in ServiceClaimsInput) (*Issued, error) {
	if in.SourceAppID == "" {
		return nil, errors.Wrapf(errors.ErrMissingClaim, "sub")
	}
	if in.TargetAppID == "" {
		return nil, errors.Wrapf(errors.ErrMissingClaim, "aud")
	}
	if in.Duration <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "service token duration must be positive")
	}

	claims := &Claims{
		TokenType: TokenTypeService,
		Scope:     in.Scopes,
		ClientID:  in.SourceAppID,
	}
	claims.Subject = in.SourceAppID
	claims.Audience = jwtlib.ClaimStrings{in.TargetAppID}

	issued, err := c.sign(ctx, claims, time.Duration(in.Duration)*time.Second)
	if err != nil {
		return nil, err
	}
	c.metrics.TokenIssued(TokenTypeService)
	return issued, nil
}

func (c *Codec) sign(ctx context.Context, claims *Claims, ttl time.Duration) (*Issued, error) {
	now := c.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	claims.Issuer = c.issuer
	claims.IssuedAt = jwtlib.NewNumericDate(now)
	claims.NotBefore = jwtlib.NewNumericDate(now)
	claims.ExpiresAt = jwtlib.NewNumericDate(exp)
	claims.ID = ids.New()

	signed, kid, err := c.keys.Sign(ctx, claims)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to sign JWT token")
	}
	return &Issued{
		Token:     signed,
		JTI:       claims.ID,
		KeyID:     kid,
		ExpiresAt: exp,
		ExpiresIn: int64(ttl / time.Second),
	}, nil
}

// Revoke adds an access token's jti to the revocation list.
func (c *Codec) Revoke(ctx context.Context, jti string, exp time.Time) error {
	if c.revocations == nil {
		return errors.ErrUnsupported
	}
	return c.revocations.Revoke(ctx, jti, exp)
}

func (c *Codec) isProxyClass(class string) bool {
	return class != "" && slices.Contains(c.proxyClasses, class)
}

func (c *Codec) logBypass(ctx context.Context, claims *Claims, opts VerifyOptions) {
	log.Warn().
		Str("sub", claims.Subject).
		Str("jti", claims.ID).
		Str("bound_ip", claims.BoundIP).
		Str("observed_ip", opts.ObservedIP).
		Str("caller_class", opts.CallerClass).
		Msg("ip binding bypassed for service proxy caller")
	audit.Safe(ctx, c.auditor, audit.Entry{
		Actor:  opts.CallerClass,
		Action: audit.ActionIPBindingBypass,
		Target: claims.Subject,
		Details: map[string]string{
			"jti":         claims.ID,
			"bound_ip":    claims.BoundIP,
			"observed_ip": opts.ObservedIP,
		},
	})
}
