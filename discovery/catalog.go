package discovery

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/jrsteele09/cids/audit"
	"github.com/jrsteele09/cids/clients"
	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/internal/metrics"
	"github.com/jrsteele09/cids/permissions"
)

type IngestResult struct {
	EndpointsStored      int `json:"endpointsStored"`
	PermissionsGenerated int `json:"permissionsGenerated"`
}

type RunResult struct {
	AppID  string                  `json:"appId"`
	Status clients.DiscoveryStatus `json:"status"`
	At     time.Time               `json:"at"`
	IngestResult
}

type CatalogOption func(*Catalog)

func WithTimeout(d time.Duration) CatalogOption {
	return func(c *Catalog) {
		c.timeout = d
	}
}

func WithCooldown(d time.Duration) CatalogOption {
	return func(c *Catalog) {
		c.cooldown = d
	}
}

// WithRequireExplicitCategory rejects responses with untagged fields.
func WithRequireExplicitCategory(require bool) CatalogOption {
	return func(c *Catalog) {
		c.requireCategory = require
	}
}

func WithAuditor(recorder audit.Recorder) CatalogOption {
	return func(c *Catalog) {
		c.auditor = recorder
	}
}

func WithMetrics(m *metrics.Metrics) CatalogOption {
	return func(c *Catalog) {
		c.metrics = m
	}
}

func WithNowTime(now func() time.Time) CatalogOption {
	return func(c *Catalog) {
		c.now = now
	}
}

// Catalog ingests discovery documents into the permission catalog.
type Catalog struct {
	clients         clients.Repo
	repo            permissions.Repo
	fetcher         Fetcher
	timeout         time.Duration
	cooldown        time.Duration
	requireCategory bool
	auditor         audit.Recorder
	metrics         *metrics.Metrics
	now             func() time.Time

	runs singleflight.Group
}

func NewCatalog(clientRepo clients.Repo, repo permissions.Repo, fetcher Fetcher, opts ...CatalogOption) (*Catalog, error) {
	if clientRepo == nil {
		return nil, errors.New("[discovery.NewCatalog] clients repo is required")
	}
	if repo == nil {
		return nil, errors.New("[discovery.NewCatalog] permissions repo is required")
	}
	if fetcher == nil {
		return nil, errors.New("[discovery.NewCatalog] fetcher is required")
	}
	c := &Catalog{
		clients:  clientRepo,
		repo:     repo,
		fetcher:  fetcher,
		timeout:  10 * time.Second,
		cooldown: 5 * time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ingest validates resp and replaces appID's catalog with the generated
// permissions. Nothing is written unless validation passes.
func (c *Catalog) Ingest(ctx context.Context, appID string, resp *Response) (*IngestResult, error) {
	if err := Validate(resp, appID, c.requireCategory); err != nil {
		return nil, err
	}
	rows, endpoints := Generate(appID, resp)
	if err := c.repo.ReplacePermissions(ctx, appID, rows); err != nil {
		return nil, errors.Wrapf(err, "failed to replace permissions for %s", appID)
	}
	return &IngestResult{EndpointsStored: endpoints, PermissionsGenerated: len(rows)}, nil
}

// Run fetches and ingests appID's discovery document. Attempts inside the
// cooldown are skipped unless force is set. Concurrent runs for one app with
// the same force flag share a single fetch; a forced run never joins a
// scheduled one, whose result may be a cooldown skip.
func (c *Catalog) Run(ctx context.Context, appID string, force bool) (*RunResult, error) {
	key := appID
	if force {
		key += "\x00force"
	}
	v, err, _ := c.runs.Do(key, func() (any, error) {
		return c.run(ctx, appID, force)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RunResult), nil
}

func (c *Catalog) run(ctx context.Context, appID string, force bool) (*RunResult, error) {
	client, err := c.clients.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	if !client.AllowDiscovery || client.DiscoveryEndpoint == "" {
		return nil, errors.Wrapf(errors.ErrDiscoveryDisabled, "%s", appID)
	}

	now := c.now().UTC()
	if !force && !client.DiscoveryDue(now, c.cooldown) {
		c.metrics.DiscoveryRun(string(clients.DiscoverySkipped))
		log.Debug().Str("app_id", appID).Msg("discovery skipped during cooldown")
		return &RunResult{AppID: appID, Status: clients.DiscoverySkipped, At: now}, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	resp, err := c.fetcher.Fetch(fetchCtx, client.DiscoveryEndpoint)
	if err == nil && fetchCtx.Err() != nil {
		err = errors.Wrapf(errors.ErrDiscoveryTimeout, "%s", client.DiscoveryEndpoint)
	}
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Wrapf(errors.ErrDiscoveryTimeout, "%s", client.DiscoveryEndpoint)
		}
		return nil, c.finish(ctx, appID, now, nil, err)
	}

	res, err := c.Ingest(ctx, appID, resp)
	if err := c.finish(ctx, appID, now, res, err); err != nil {
		return nil, err
	}
	return &RunResult{AppID: appID, Status: clients.DiscoverySuccess, At: now, IngestResult: *res}, nil
}

func (c *Catalog) finish(ctx context.Context, appID string, at time.Time, res *IngestResult, runErr error) error {
	status := clients.DiscoverySuccess
	errMsg := ""
	details := map[string]string{}
	if runErr != nil {
		status = clients.DiscoveryFailed
		errMsg = runErr.Error()
		details["error"] = errMsg
		log.Warn().Err(runErr).Str("app_id", appID).Msg("discovery failed")
	} else {
		details["endpoints"] = strconv.Itoa(res.EndpointsStored)
		details["permissions"] = strconv.Itoa(res.PermissionsGenerated)
		log.Info().Str("app_id", appID).Int("endpoints", res.EndpointsStored).Int("permissions", res.PermissionsGenerated).Msg("discovery completed")
	}
	if err := c.clients.RecordDiscovery(ctx, appID, status, at, errMsg); err != nil {
		log.Err(err).Str("app_id", appID).Msg("failed to record discovery status")
	}
	c.metrics.DiscoveryRun(string(status))
	outcome := audit.OutcomeSuccess
	if runErr != nil {
		outcome = audit.OutcomeFailure
	}
	audit.Safe(ctx, c.auditor, audit.Entry{
		Actor:   "discovery",
		Action:  audit.ActionDiscoveryRun,
		Target:  appID,
		Outcome: outcome,
		Details: details,
	})
	return runErr
}

// Permissions returns appID's current catalog.
func (c *Catalog) Permissions(ctx context.Context, appID string) ([]permissions.Discovered, error) {
	return c.repo.ListPermissions(ctx, appID)
}

// RunDue runs discovery for every active application whose cooldown has
// passed. Failures are recorded on the application and do not stop the
// sweep; the count is of successful runs.
func (c *Catalog) RunDue(ctx context.Context) (int, error) {
	apps, err := c.clients.List(ctx, 0, 0)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to list applications")
	}
	now := c.now().UTC()
	ran := 0
	for _, app := range apps {
		if !app.IsActive || !app.AllowDiscovery || app.DiscoveryEndpoint == "" || !app.DiscoveryDue(now, c.cooldown) {
			continue
		}
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}
		res, err := c.Run(ctx, app.ID, false)
		if err != nil {
			log.Warn().Err(err).Str("app_id", app.ID).Msg("scheduled discovery failed")
			continue
		}
		if res.Status == clients.DiscoverySuccess {
			ran++
		}
	}
	return ran, nil
}
