package a2a

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/cids/apikeys"
	"github.com/jrsteele09/cids/audit"
	"github.com/jrsteele09/cids/clients"
	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/token/jwt"
)

// KeyValidator authenticates the presented API key.
type KeyValidator interface {
	Validate(ctx context.Context, presented string) (*apikeys.APIKey, error)
}

// TokenSigner mints the service token.
type TokenSigner interface {
	IssueServiceToken(ctx context.Context, in jwt.ServiceClaimsInput) (*jwt.Issued, error)
}

// Request asks for a token letting SourceAppID call TargetAppID. An empty
// SourceAppID is taken from the key owner. Duration is in seconds; zero
// asks for the policy maximum.
type Request struct {
	SourceAppID string
	APIKey      string
	TargetAppID string
	Scopes      []string
	Duration    int64
}

type IssuerOption func(*Issuer)

// WithMaxDuration caps every policy at d.
func WithMaxDuration(d time.Duration) IssuerOption {
	return func(i *Issuer) {
		i.maxDuration = int64(d / time.Second)
	}
}

func WithAuditor(recorder audit.Recorder) IssuerOption {
	return func(i *Issuer) {
		i.auditor = recorder
	}
}

type Issuer struct {
	keys        KeyValidator
	policies    Repo
	clients     clients.Repo
	signer      TokenSigner
	maxDuration int64
	auditor     audit.Recorder
}

func NewIssuer(keys KeyValidator, policies Repo, clientRepo clients.Repo, signer TokenSigner, opts ...IssuerOption) (*Issuer, error) {
	if keys == nil || policies == nil || clientRepo == nil || signer == nil {
		return nil, errors.New("[a2a.NewIssuer] key validator, policy repo, client repo and signer are required")
	}
	i := &Issuer{
		keys:     keys,
		policies: policies,
		clients:  clientRepo,
		signer:   signer,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// IssueServiceToken checks the key and the source/target policy and mints a
// token whose only audience is the target.
func (i *Issuer) IssueServiceToken(ctx context.Context, req Request) (*jwt.Issued, error) {
	issued, source, err := i.issue(ctx, req)
	entry := audit.Entry{
		Actor:   source,
		Action:  audit.ActionServiceToken,
		Target:  req.TargetAppID,
		Outcome: audit.OutcomeSuccess,
		Details: map[string]string{"scopes": strings.Join(req.Scopes, " ")},
	}
	if err != nil {
		entry.Action = audit.ActionServiceTokenDeny
		entry.Outcome = audit.OutcomeFailure
		entry.Details["error"] = err.Error()
		log.Warn().Err(err).Str("source", source).Str("target", req.TargetAppID).Msg("service token denied")
	} else {
		entry.Details["jti"] = issued.JTI
		entry.Details["expires_in"] = strconv.FormatInt(issued.ExpiresIn, 10)
	}
	audit.Safe(ctx, i.auditor, entry)
	return issued, err
}

func (i *Issuer) issue(ctx context.Context, req Request) (*jwt.Issued, string, error) {
	source := req.SourceAppID
	if strings.TrimSpace(req.TargetAppID) == "" {
		return nil, source, errors.Wrapf(errors.ErrInvalidRequest, "target app id is required")
	}
	if req.Duration < 0 {
		return nil, source, errors.Wrapf(errors.ErrInvalidRequest, "duration must not be negative")
	}

	key, err := i.keys.Validate(ctx, req.APIKey)
	if err != nil {
		if errors.KindOf(err) == errors.KindInternal {
			return nil, source, errors.Wrapf(err, "failed to validate api key")
		}
		return nil, source, errors.Wrapf(errors.ErrInvalidAPIKey, "%v", err)
	}
	if source == "" {
		source = key.OwnerAppID
	}
	if key.OwnerAppID != source {
		return nil, source, errors.Wrapf(errors.ErrInvalidAPIKey, "key does not belong to %s", source)
	}

	if err := i.checkActive(ctx, source); err != nil {
		return nil, source, err
	}
	if err := i.checkActive(ctx, req.TargetAppID); err != nil {
		return nil, source, err
	}

	policy, err := i.policies.Get(ctx, source, req.TargetAppID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, source, errors.Wrapf(errors.ErrNoPolicy, "%s -> %s", source, req.TargetAppID)
	}
	if err != nil {
		return nil, source, errors.Wrapf(err, "failed to load a2a policy")
	}
	if scope, ok := policy.Allows(req.Scopes); !ok {
		return nil, source, errors.Wrapf(errors.ErrScopeNotPermitted, "%q", scope)
	}

	limit := policy.MaxTokenDuration
	if i.maxDuration > 0 && limit > i.maxDuration {
		limit = i.maxDuration
	}
	duration := req.Duration
	if duration == 0 {
		duration = limit
	}
	if duration > limit {
		return nil, source, errors.Wrapf(errors.ErrDurationExceedsPolicy, "%ds > %ds", duration, limit)
	}

	issued, err := i.signer.IssueServiceToken(ctx, jwt.ServiceClaimsInput{
		SourceAppID: source,
		TargetAppID: req.TargetAppID,
		Scopes:      req.Scopes,
		Duration:    duration,
	})
	if err != nil {
		return nil, source, err
	}
	return issued, source, nil
}

func (i *Issuer) checkActive(ctx context.Context, appID string) error {
	app, err := i.clients.Get(ctx, appID)
	if errors.Is(err, errors.ErrNotFound) {
		return errors.Wrapf(errors.ErrNoPolicy, "unknown app %s", appID)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to load app %s", appID)
	}
	if !app.IsActive {
		return errors.Wrapf(errors.ErrInactiveApp, "%s", appID)
	}
	return nil
}
