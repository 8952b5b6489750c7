package jwt_test

import (
	"context"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/cids/audit"
	auditfake "github.com/jrsteele09/cids/audit/repofake"
	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/token"
	"github.com/jrsteele09/cids/token/jwt"
	"github.com/jrsteele09/cids/token/keys"
)

const (
	testIssuer  = "https://cids.test"
	testSubject = "user-123"
	appB        = "app_B"
	appC        = "app_C"
	proxyClass  = "service_proxy"
	hrApp       = "hr_app"
)

type testFixture struct {
	keys        *keys.Manager
	codec       *jwt.Codec
	revocations *token.InMemoryRevocationList
	auditRepo   *auditfake.FakeAuditRepo
	now         time.Time
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		keys:        keys.NewManager(),
		revocations: token.NewInMemoryRevocationList(),
		auditRepo:   auditfake.NewFakeAuditRepo(),
		now:         time.Now(),
	}
	codec, err := jwt.NewCodec(f.keys, testIssuer, 15*time.Minute,
		jwt.WithRevocationList(f.revocations),
		jwt.WithAuditor(audit.NewLog(f.auditRepo)),
		jwt.WithServiceProxyClasses(proxyClass),
		jwt.WithNowTime(func() time.Time { return f.now }),
	)
	require.NoError(t, err)
	f.codec = codec
	return f
}

func sampleInput() jwt.ClaimsInput {
	return jwt.ClaimsInput{
		Subject:  testSubject,
		Email:    "alice@example.com",
		Name:     "Alice",
		Groups:   []string{"hr"},
		Audience: []string{"hr_app"},
		Roles:    map[string][]string{"hr_app": {"hr_manager"}},
		Permissions: map[string][]string{
			"hr_app": {"employees.read.id", "employees.read.name"},
		},
		RLSFilters: map[string]map[string][]string{
			"hr_app": {"employees": {"department = 'HR'"}},
		},
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	in := sampleInput()

	issued, err := f.codec.IssueAccessToken(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, issued.JTI)
	require.Equal(t, int64(900), issued.ExpiresIn)

	claims, err := f.codec.VerifyAccessToken(ctx, issued.Token, jwt.VerifyOptions{ExpectedAudience: hrApp})
	require.NoError(t, err)
	require.Equal(t, in.Subject, claims.Subject)
	require.Equal(t, in.Email, claims.Email)
	require.Equal(t, in.Name, claims.Name)
	require.Equal(t, in.Groups, claims.Groups)
	require.Equal(t, in.Roles, claims.Roles)
	require.Equal(t, in.Permissions, claims.Permissions)
	require.Equal(t, in.RLSFilters, claims.RLSFilters)
	require.Equal(t, jwt.TokenTypeUser, claims.TokenType)
	require.Equal(t, testIssuer, claims.Issuer)
	require.Equal(t, issued.JTI, claims.ID)

	parsed, _, err := jwtlib.NewParser().ParseUnverified(issued.Token, jwtlib.MapClaims{})
	require.NoError(t, err)
	require.Equal(t, issued.KeyID, parsed.Header["kid"])
	require.Equal(t, "RS256", parsed.Header["alg"])
}

func TestIssueRequiresSubjectAndAudience(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	in := sampleInput()
	in.Subject = ""
	_, err := f.codec.IssueAccessToken(ctx, in)
	require.True(t, errors.Is(err, errors.ErrMissingClaim))

	in = sampleInput()
	in.Audience = nil
	_, err = f.codec.IssueAccessToken(ctx, in)
	require.True(t, errors.Is(err, errors.ErrMissingClaim))
}

func TestVerifyFailures(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	issued, err := f.codec.IssueAccessToken(ctx, sampleInput())
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		saved := f.now
		f.now = f.now.Add(16 * time.Minute)
		defer func() { f.now = saved }()
		_, err := f.codec.VerifyAccessToken(ctx, issued.Token, jwt.VerifyOptions{ExpectedAudience: hrApp})
		require.True(t, errors.Is(err, errors.ErrExpired))
	})

	t.Run("audience mismatch", func(t *testing.T) {
		_, err := f.codec.VerifyAccessToken(ctx, issued.Token, jwt.VerifyOptions{ExpectedAudience: "other"})
		require.True(t, errors.Is(err, errors.ErrAudienceMismatch))
	})

	t.Run("audience required", func(t *testing.T) {
		_, err := f.codec.VerifyAccessToken(ctx, issued.Token, jwt.VerifyOptions{})
		require.True(t, errors.Is(err, errors.ErrAudienceMismatch))
		require.Equal(t, errors.KindAuthentication, errors.KindOf(err))

		claims, err := f.codec.VerifyAccessToken(ctx, issued.Token, jwt.VerifyOptions{AnyAudience: true})
		require.NoError(t, err)
		require.Equal(t, testSubject, claims.Subject)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := f.codec.VerifyAccessToken(ctx, "not.a.jwt", jwt.VerifyOptions{ExpectedAudience: hrApp})
		require.True(t, errors.Is(err, errors.ErrMalformed))
		_, err = f.codec.VerifyAccessToken(ctx, "", jwt.VerifyOptions{ExpectedAudience: hrApp})
		require.True(t, errors.Is(err, errors.ErrMalformed))
	})

	t.Run("tampered signature", func(t *testing.T) {
		tampered := issued.Token[:len(issued.Token)-4] + "AAAA"
		_, err := f.codec.VerifyAccessToken(ctx, tampered, jwt.VerifyOptions{ExpectedAudience: hrApp})
		require.True(t, errors.Is(err, errors.ErrInvalidSignature))
	})

	t.Run("foreign key", func(t *testing.T) {
		other := setupTestFixture(t)
		foreign, err := other.codec.IssueAccessToken(ctx, sampleInput())
		require.NoError(t, err)
		_, err = f.codec.VerifyAccessToken(ctx, foreign.Token, jwt.VerifyOptions{ExpectedAudience: hrApp})
		require.True(t, errors.Is(err, errors.ErrUnknownKeyID))
	})

	t.Run("revoked", func(t *testing.T) {
		require.NoError(t, f.codec.Revoke(ctx, issued.JTI, issued.ExpiresAt))
		_, err := f.codec.VerifyAccessToken(ctx, issued.Token, jwt.VerifyOptions{ExpectedAudience: hrApp})
		require.True(t, errors.Is(err, errors.ErrRevoked))
	})
}

func TestVerifyAfterRotation(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	issued, err := f.codec.IssueAccessToken(ctx, sampleInput())
	require.NoError(t, err)
	_, err = f.keys.Rotate(ctx)
	require.NoError(t, err)

	_, err = f.codec.VerifyAccessToken(ctx, issued.Token, jwt.VerifyOptions{ExpectedAudience: hrApp})
	require.NoError(t, err)

	next, err := f.codec.IssueAccessToken(ctx, sampleInput())
	require.NoError(t, err)
	require.NotEqual(t, issued.KeyID, next.KeyID)
}

func TestIPBinding(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	in := sampleInput()
	in.BoundIP = "10.0.0.1"
	issued, err := f.codec.IssueAccessToken(ctx, in)
	require.NoError(t, err)

	_, err = f.codec.VerifyAccessToken(ctx, issued.Token, jwt.VerifyOptions{ExpectedAudience: hrApp, ObservedIP: "10.0.0.1"})
	require.NoError(t, err)

	_, err = f.codec.VerifyAccessToken(ctx, issued.Token, jwt.VerifyOptions{ExpectedAudience: hrApp, ObservedIP: "10.0.0.2"})
	require.True(t, errors.Is(err, errors.ErrIPMismatch))

	_, err = f.codec.VerifyAccessToken(ctx, issued.Token, jwt.VerifyOptions{ExpectedAudience: hrApp, ObservedIP: "10.0.0.2", CallerClass: "browser"})
	require.True(t, errors.Is(err, errors.ErrIPMismatch))

	_, err = f.codec.VerifyAccessToken(ctx, issued.Token, jwt.VerifyOptions{ExpectedAudience: hrApp, ObservedIP: "10.0.0.2", CallerClass: proxyClass})
	require.NoError(t, err)

	entries, err := f.auditRepo.List(ctx, audit.Filter{Action: audit.ActionIPBindingBypass})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "10.0.0.2", entries[0].Details["observed_ip"])
}

func TestDeviceBinding(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	in := sampleInput()
	in.DeviceFingerprint = "device-abc"
	issued, err := f.codec.IssueAccessToken(ctx, in)
	require.NoError(t, err)

	claims, err := f.codec.VerifyAccessToken(ctx, issued.Token, jwt.VerifyOptions{ExpectedAudience: hrApp, DeviceFingerprint: "device-abc"})
	require.NoError(t, err)
	require.NotEqual(t, "device-abc", claims.BoundDevice, "fingerprint is stored hashed")

	_, err = f.codec.VerifyAccessToken(ctx, issued.Token, jwt.VerifyOptions{ExpectedAudience: hrApp, DeviceFingerprint: "device-xyz"})
	require.True(t, errors.Is(err, errors.ErrDeviceMismatch))
}

func TestServiceTokenAudienceIsolation(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	issued, err := f.codec.IssueServiceToken(ctx, jwt.ServiceClaimsInput{
		SourceAppID: "app_A",
		TargetAppID: appB,
		Scopes:      []string{"orders.read"},
		Duration:    300,
	})
	require.NoError(t, err)
	require.Equal(t, int64(300), issued.ExpiresIn)

	claims, err := f.codec.VerifyAccessToken(ctx, issued.Token, jwt.VerifyOptions{ExpectedAudience: appB})
	require.NoError(t, err)
	require.Equal(t, jwt.TokenTypeService, claims.TokenType)
	require.Equal(t, []string{appB}, []string(claims.Audience))
	require.Equal(t, "app_A", claims.ClientID)

	_, err = f.codec.VerifyAccessToken(ctx, issued.Token, jwt.VerifyOptions{ExpectedAudience: appC})
	require.True(t, errors.Is(err, errors.ErrAudienceMismatch))
}
