package broker

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/cids/audit"
	"github.com/jrsteele09/cids/broker/flowstate"
	"github.com/jrsteele09/cids/clients"
	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/permissions/resolver"
	"github.com/jrsteele09/cids/token/jwt"
	"github.com/jrsteele09/cids/token/refresh"
	"github.com/jrsteele09/cids/users"
)

const stateLength = 32

// Repos holds the repository dependencies of the Broker
type Repos struct {
	Users   users.Repo
	Clients clients.Repo
	Flows   flowstate.Repo
}

type LoginRequest struct {
	ReturnURL string
}

type LoginRedirect struct {
	URL       string    `json:"url"`
	State     string    `json:"state"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type CallbackRequest struct {
	State             string
	Code              string
	Error             string
	ErrorDescription  string
	ObservedIP        string
	DeviceFingerprint string
}

type RefreshRequest struct {
	RefreshToken      string
	ObservedIP        string
	DeviceFingerprint string
}

type LogoutRequest struct {
	RefreshToken      string
	AccessToken       string
	ObservedIP        string
	DeviceFingerprint string
}

// TokenSet is returned to the user agent after login or refresh.
type TokenSet struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	ReturnURL        string    `json:"return_url,omitempty"`
}

// Identity answers the identity query for one application with freshly
// resolved permissions.
type Identity struct {
	Subject     string              `json:"sub"`
	Email       string              `json:"email,omitempty"`
	Name        string              `json:"name,omitempty"`
	Groups      []string            `json:"groups,omitempty"`
	AppID       string              `json:"app_id"`
	Roles       []string            `json:"roles"`
	Permissions []string            `json:"permissions"`
	RLSFilters  map[string][]string `json:"rls_filters,omitempty"`
}

type BrokerOption func(*Broker)

func WithStateTTL(ttl time.Duration) BrokerOption {
	return func(b *Broker) {
		b.stateTTL = ttl
	}
}

// WithIPBinding controls whether access tokens carry the client IP.
func WithIPBinding(enabled bool) BrokerOption {
	return func(b *Broker) {
		b.bindIP = enabled
	}
}

func WithAuditor(recorder audit.Recorder) BrokerOption {
	return func(b *Broker) {
		b.auditor = recorder
	}
}

func WithNowTime(now func() time.Time) BrokerOption {
	return func(b *Broker) {
		b.now = now
	}
}

// Broker runs the login state machine: redirect to the IdP, handle the
// callback, resolve permissions and mint tokens.
type Broker struct {
	idp      IdentityProvider
	repos    Repos
	resolver *resolver.Resolver
	codec    *jwt.Codec
	refresh  *refresh.Manager
	stateTTL time.Duration
	bindIP   bool
	auditor  audit.Recorder
	now      func() time.Time
}

func New(idp IdentityProvider, repos Repos, res *resolver.Resolver, codec *jwt.Codec, refreshTokens *refresh.Manager, opts ...BrokerOption) (*Broker, error) {
	if idp == nil {
		return nil, errors.New("[broker.New] identity provider is required")
	}
	if repos.Users == nil || repos.Clients == nil || repos.Flows == nil {
		return nil, errors.New("[broker.New] users, clients and flow state repos are required")
	}
	if res == nil || codec == nil || refreshTokens == nil {
		return nil, errors.New("[broker.New] resolver, codec and refresh manager are required")
	}
	b := &Broker{
		idp:      idp,
		repos:    repos,
		resolver: res,
		codec:    codec,
		refresh:  refreshTokens,
		stateTTL: 10 * time.Minute,
		bindIP:   true,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// BeginLogin stores fresh state, nonce and PKCE verifier and returns the
// IdP authorization URL.
func (b *Broker) BeginLogin(ctx context.Context, req LoginRequest) (*LoginRedirect, error) {
	if err := b.checkReturnURL(ctx, req.ReturnURL); err != nil {
		return nil, err
	}
	state, err := randomString(stateLength)
	if err != nil {
		return nil, err
	}
	nonce, err := randomString(stateLength)
	if err != nil {
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	now := b.now().UTC()
	flow := &flowstate.State{
		Nonce:        nonce,
		CodeVerifier: verifier,
		ReturnURL:    req.ReturnURL,
		CreatedAt:    now,
		ExpiresAt:    now.Add(b.stateTTL),
	}
	if err := b.repos.Flows.Put(ctx, state, flow); err != nil {
		return nil, errors.Wrapf(err, "failed to store login state")
	}
	return &LoginRedirect{
		URL:       b.idp.AuthCodeURL(state, nonce, verifier),
		State:     state,
		ExpiresAt: flow.ExpiresAt,
	}, nil
}

// checkReturnURL accepts relative paths and absolute URLs registered as a
// redirect URI of an active application.
func (b *Broker) checkReturnURL(ctx context.Context, returnURL string) error {
	if returnURL == "" {
		return nil
	}
	u, err := url.Parse(returnURL)
	if err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "invalid return url")
	}
	if !u.IsAbs() && u.Host == "" && strings.HasPrefix(u.Path, "/") && !strings.HasPrefix(u.Path, "//") {
		return nil
	}
	apps, err := b.repos.Clients.List(ctx, 0, 0)
	if err != nil {
		return errors.Wrapf(err, "failed to list applications")
	}
	for _, app := range apps {
		if app.IsActive && app.HasRedirectURI(returnURL) {
			return nil
		}
	}
	return errors.Wrapf(errors.ErrInvalidRequest, "return url is not registered")
}

// Callback completes a login. The state is consumed whether or not the
// rest of the callback succeeds.
func (b *Broker) Callback(ctx context.Context, req CallbackRequest) (*TokenSet, error) {
	set, subject, err := b.callback(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("sub", subject).Msg("login failed")
		audit.Safe(ctx, b.auditor, audit.Entry{
			Actor:   subject,
			Action:  audit.ActionLoginFailed,
			Outcome: audit.OutcomeFailure,
			IP:      req.ObservedIP,
			Details: map[string]string{"error": err.Error()},
		})
		return nil, err
	}
	log.Info().Str("sub", subject).Msg("login succeeded")
	audit.Safe(ctx, b.auditor, audit.Entry{
		Actor:   subject,
		Action:  audit.ActionLogin,
		Outcome: audit.OutcomeSuccess,
		IP:      req.ObservedIP,
	})
	return set, nil
}

func (b *Broker) callback(ctx context.Context, req CallbackRequest) (*TokenSet, string, error) {
	if req.State == "" {
		return nil, "", errors.Wrapf(errors.ErrStateMismatch, "missing state")
	}
	flow, err := b.repos.Flows.Take(ctx, req.State)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, "", errors.Wrapf(errors.ErrStateMismatch, "unknown state")
	}
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to load login state")
	}
	if flow.Expired(b.now().UTC()) {
		return nil, "", errors.Wrapf(errors.ErrStateMismatch, "state expired")
	}
	if req.Error != "" {
		return nil, "", errors.Wrapf(errors.ErrIdPError, "%s: %s", req.Error, req.ErrorDescription)
	}
	if req.Code == "" {
		return nil, "", errors.Wrapf(errors.ErrInvalidRequest, "missing code")
	}

	ident, err := b.idp.Exchange(ctx, req.Code, flow.CodeVerifier)
	if err != nil {
		if !errors.Is(err, errors.ErrIdPError) {
			err = errors.Wrapf(errors.ErrIdPError, "%v", err)
		}
		return nil, "", err
	}
	if ident.Nonce != flow.Nonce {
		return nil, ident.Subject, errors.Wrapf(errors.ErrNonceMismatch, "id token nonce")
	}
	if ident.Subject == "" {
		return nil, "", errors.Wrapf(errors.ErrIdPError, "identity has no subject")
	}

	now := b.now().UTC()
	user, err := b.repos.Users.RecordLogin(ctx, &users.User{
		ID:         ident.Subject,
		Email:      ident.Email,
		Name:       ident.Name,
		Department: ident.Department,
		Tenant:     ident.Tenant,
		Groups:     ident.Groups,
		FirstSeen:  now,
		LastLogin:  now,
	})
	if err != nil {
		return nil, ident.Subject, errors.Wrapf(err, "failed to record user")
	}
	if user.Blocked {
		return nil, ident.Subject, errors.Wrapf(errors.ErrUserBlocked, "%s", ident.Subject)
	}

	snapshot := refresh.Snapshot{
		Subject:    ident.Subject,
		Email:      ident.Email,
		Name:       ident.Name,
		Department: ident.Department,
		Tenant:     ident.Tenant,
		Groups:     ident.Groups,
	}
	access, apps, err := b.mint(ctx, snapshot, req.ObservedIP, req.DeviceFingerprint)
	if err != nil {
		return nil, ident.Subject, err
	}
	snapshot.Apps = apps
	rt, err := b.refresh.Issue(ctx, snapshot)
	if err != nil {
		return nil, ident.Subject, err
	}
	set := tokenSet(access, rt)
	set.ReturnURL = flow.ReturnURL
	return set, ident.Subject, nil
}

// Refresh rotates the refresh token and mints a new access token from the
// login snapshot against the current roles and catalog.
func (b *Broker) Refresh(ctx context.Context, req RefreshRequest) (*TokenSet, error) {
	red, err := b.refresh.Redeem(ctx, req.RefreshToken)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.Wrapf(errors.ErrInvalidCredentials, "unknown refresh token")
	}
	if err != nil {
		return nil, err
	}
	snap := red.Snapshot

	user, err := b.repos.Users.Get(ctx, snap.Subject)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, errors.Wrapf(err, "failed to load user")
	}
	if user != nil && user.Blocked {
		if err := b.refresh.RevokeFamily(ctx, red.FamilyID, refresh.ReasonAdmin); err != nil {
			log.Err(err).Str("family_id", red.FamilyID).Msg("failed to revoke refresh family of blocked user")
		}
		return nil, errors.Wrapf(errors.ErrUserBlocked, "%s", snap.Subject)
	}

	access, _, err := b.mint(ctx, snap, req.ObservedIP, req.DeviceFingerprint)
	if err != nil {
		return nil, err
	}
	audit.Safe(ctx, b.auditor, audit.Entry{
		Actor:   snap.Subject,
		Action:  audit.ActionRefresh,
		Target:  red.FamilyID,
		Outcome: audit.OutcomeSuccess,
		IP:      req.ObservedIP,
	})
	return tokenSet(access, &red.Issued), nil
}

// Logout revokes the refresh family. A presented access token is added to
// the revocation list when it still verifies.
func (b *Broker) Logout(ctx context.Context, req LogoutRequest) error {
	subject := ""
	if req.RefreshToken != "" {
		fam, err := b.refresh.RevokeToken(ctx, req.RefreshToken, refresh.ReasonLogout)
		switch {
		case errors.Is(err, errors.ErrNotFound):
		case err != nil:
			return err
		default:
			subject = fam.Snapshot.Subject
		}
	}
	if req.AccessToken != "" {
		claims, err := b.codec.VerifyAccessToken(ctx, req.AccessToken, jwt.VerifyOptions{
			AnyAudience:       true,
			ObservedIP:        req.ObservedIP,
			DeviceFingerprint: req.DeviceFingerprint,
		})
		if err == nil {
			subject = claims.Subject
			if err := b.codec.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil && !errors.Is(err, errors.ErrUnsupported) {
				return errors.Wrapf(err, "failed to revoke access token")
			}
		}
	}
	audit.Safe(ctx, b.auditor, audit.Entry{
		Actor:   subject,
		Action:  audit.ActionLogout,
		Outcome: audit.OutcomeSuccess,
		IP:      req.ObservedIP,
	})
	return nil
}

// Identity verifies an access token issued for appID and returns the
// user's current permissions for it.
func (b *Broker) Identity(ctx context.Context, rawAccessToken, appID string, opts jwt.VerifyOptions) (*Identity, error) {
	if appID == "" {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "app id is required")
	}
	opts.ExpectedAudience = appID
	claims, err := b.codec.VerifyAccessToken(ctx, rawAccessToken, opts)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != jwt.TokenTypeUser {
		return nil, errors.Wrapf(errors.ErrForbidden, "not a user token")
	}

	subject := resolver.Subject{UserID: claims.Subject, Email: claims.Email}
	user, err := b.repos.Users.Get(ctx, claims.Subject)
	switch {
	case err == nil:
		if user.Blocked {
			return nil, errors.Wrapf(errors.ErrUserBlocked, "%s", claims.Subject)
		}
		subject.Department = user.Department
		subject.Tenant = user.Tenant
	case !errors.Is(err, errors.ErrNotFound):
		return nil, errors.Wrapf(err, "failed to load user")
	}

	res, err := b.resolver.Resolve(ctx, appID, claims.Groups, subject)
	if err != nil {
		return nil, err
	}
	return &Identity{
		Subject:     claims.Subject,
		Email:       claims.Email,
		Name:        claims.Name,
		Groups:      claims.Groups,
		AppID:       appID,
		Roles:       res.Roles,
		Permissions: res.Permissions,
		RLSFilters:  res.RLSFilters,
	}, nil
}

// mint resolves permissions across every active application and signs an
// access token whose audience is the set of apps the user holds roles in.
// Without any entitlement the audience is the broker itself.
func (b *Broker) mint(ctx context.Context, snap refresh.Snapshot, observedIP, fingerprint string) (*jwt.Issued, []string, error) {
	apps, err := b.repos.Clients.List(ctx, 0, 0)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to list applications")
	}
	appIDs := make([]string, 0, len(apps))
	for _, app := range apps {
		if app.IsActive {
			appIDs = append(appIDs, app.ID)
		}
	}

	subject := resolver.Subject{UserID: snap.Subject, Email: snap.Email, Department: snap.Department, Tenant: snap.Tenant}
	resolved, err := b.resolver.ResolveAll(ctx, appIDs, snap.Groups, subject)
	if err != nil {
		return nil, nil, err
	}

	in := jwt.ClaimsInput{
		Subject:           snap.Subject,
		Email:             snap.Email,
		Name:              snap.Name,
		Groups:            snap.Groups,
		DeviceFingerprint: fingerprint,
		Roles:             make(map[string][]string, len(resolved)),
		Permissions:       make(map[string][]string, len(resolved)),
		RLSFilters:        make(map[string]map[string][]string),
	}
	if b.bindIP {
		in.BoundIP = observedIP
	}
	entitled := make([]string, 0, len(resolved))
	for appID, res := range resolved {
		entitled = append(entitled, appID)
		in.Roles[appID] = res.Roles
		in.Permissions[appID] = res.Permissions
		if len(res.RLSFilters) > 0 {
			in.RLSFilters[appID] = res.RLSFilters
		}
	}
	sort.Strings(entitled)
	in.Audience = entitled
	if len(in.Audience) == 0 {
		in.Audience = []string{b.codec.Issuer()}
	}

	issued, err := b.codec.IssueAccessToken(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return issued, entitled, nil
}

func tokenSet(access *jwt.Issued, rt *refresh.Issued) *TokenSet {
	return &TokenSet{
		AccessToken:      access.Token,
		TokenType:        "Bearer",
		ExpiresIn:        access.ExpiresIn,
		RefreshToken:     rt.Token,
		RefreshExpiresAt: rt.ExpiresAt,
	}
}

func randomString(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrapf(err, "failed to read random bytes")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
