package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/cids/a2a"
	"github.com/jrsteele09/cids/apikeys"
	"github.com/jrsteele09/cids/audit"
	"github.com/jrsteele09/cids/broker"
	"github.com/jrsteele09/cids/broker/flowstate"
	"github.com/jrsteele09/cids/discovery"
	"github.com/jrsteele09/cids/internal/config"
	"github.com/jrsteele09/cids/internal/janitor"
	"github.com/jrsteele09/cids/internal/metrics"
	"github.com/jrsteele09/cids/permissions/resolver"
	"github.com/jrsteele09/cids/server"
	"github.com/jrsteele09/cids/storage/redisstore"
	"github.com/jrsteele09/cids/storage/sqlstore"
	"github.com/jrsteele09/cids/token"
	"github.com/jrsteele09/cids/token/jwt"
	"github.com/jrsteele09/cids/token/keys"
	"github.com/jrsteele09/cids/token/refresh"
)

const (
	memoryDSN      = "file::memory:?cache=shared"
	redisKeyPrefix = "cids:"
)

type application struct {
	server  *server.Server
	janitor *janitor.Janitor
	closers []func() error
}

func (a *application) close() {
	if a.server != nil {
		a.server.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("failed to close store")
		}
	}
}

// wire builds every component from configuration. The SQL store holds all
// durable state; Redis, when configured, takes over the short lived state
// (refresh families, the jti revocation list and login flow state).
func wire(ctx context.Context, c config.Config) (_ *application, err error) {
	app := &application{}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	driver, dsn := c.GetStorageDriver(), c.GetDatabaseDSN()
	if driver == config.DriverMemory {
		driver, dsn = config.DriverSQLite, memoryDSN
	}
	db, err := sqlstore.Open(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("[wire] failed to open %s store: %w", driver, err)
	}
	app.closers = append(app.closers, db.Close)
	log.Info().Str("driver", c.GetStorageDriver()).Msg("storage ready")

	var refreshRepo refresh.Repo = db.Refresh()
	var revocations token.RevocationList = db.Revocations()
	var flows flowstate.Repo = db.Flows()
	health := []func(context.Context) error{db.Ping}

	if addr := c.GetRedisAddr(); addr != "" {
		rdb, err := redisstore.Open(ctx, redisstore.Config{
			Addrs:     strings.Split(addr, ","),
			Password:  c.GetRedisPassword(),
			KeyPrefix: redisKeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("[wire] failed to open redis store: %w", err)
		}
		app.closers = append(app.closers, rdb.Close)
		refreshRepo, revocations, flows = rdb.Refresh(), rdb.Revocations(), rdb.Flows()
		health = append(health, rdb.Ping)
		log.Info().Str("addr", addr).Msg("redis store ready")
	}

	mt := metrics.New()
	auditLog := audit.NewLog(db.Audit())

	keyManager := keys.NewManager(
		keys.WithStore(db.SigningKeys()),
		keys.WithKeyBits(c.GetSigningKeyBits()),
		keys.WithVerifyGrace(c.GetSigningKeyVerifyGrace()),
	)

	codec, err := jwt.NewCodec(keyManager, c.GetIssuer(), c.GetAccessTokenExpiry(),
		jwt.WithRevocationList(revocations),
		jwt.WithAuditor(auditLog),
		jwt.WithServiceProxyClasses(c.GetServiceProxyCallerClasses()...),
		jwt.WithMetrics(mt),
	)
	if err != nil {
		return nil, err
	}

	refreshTokens, err := refresh.NewManager(refreshRepo, c.GetRefreshTokenExpiry(),
		refresh.WithTokenLength(c.GetRefreshTokenLength()),
		refresh.WithAuditor(auditLog),
		refresh.WithMetrics(mt),
	)
	if err != nil {
		return nil, err
	}

	res, err := resolver.New(db.Roles(), db.Catalog())
	if err != nil {
		return nil, err
	}

	idp, err := broker.NewOIDCProvider(ctx, broker.OIDCConfig{
		IssuerURL:    c.GetIdPIssuerURL(),
		ClientID:     c.GetIdPClientID(),
		ClientSecret: c.GetIdPClientSecret(),
		RedirectURL:  c.GetIdPRedirectURL(),
		Scopes:       c.GetIdPScopes(),
		Timeout:      c.GetIdPTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("[wire] failed to configure identity provider: %w", err)
	}

	b, err := broker.New(idp,
		broker.Repos{Users: db.Users(), Clients: db.Clients(), Flows: flows},
		res, codec, refreshTokens,
		broker.WithStateTTL(c.GetLoginStateTTL()),
		broker.WithIPBinding(c.GetBindTokensToIP()),
		broker.WithAuditor(auditLog),
	)
	if err != nil {
		return nil, err
	}

	keyOpts := []apikeys.ManagerOption{
		apikeys.WithDefaultTTL(c.GetAPIKeyDefaultTTL()),
		apikeys.WithAuditor(auditLog),
		apikeys.WithMetrics(mt),
	}
	if c.GetAllowMultipleActiveAPIKeys() {
		keyOpts = append(keyOpts, apikeys.WithMultipleActiveKeys())
	}
	apiKeys, err := apikeys.NewManager(db.APIKeys(), keyOpts...)
	if err != nil {
		return nil, err
	}

	issuer, err := a2a.NewIssuer(apiKeys, db.A2A(), db.Clients(), codec,
		a2a.WithMaxDuration(c.GetMaxServiceTokenDuration()),
		a2a.WithAuditor(auditLog),
	)
	if err != nil {
		return nil, err
	}

	catalog, err := discovery.NewCatalog(db.Clients(), db.Catalog(),
		discovery.NewHTTPFetcher(&http.Client{Timeout: c.GetDiscoveryTimeout()}),
		discovery.WithTimeout(c.GetDiscoveryTimeout()),
		discovery.WithCooldown(c.GetDiscoveryCooldown()),
		discovery.WithRequireExplicitCategory(c.GetRequireExplicitCategory()),
		discovery.WithAuditor(auditLog),
		discovery.WithMetrics(mt),
	)
	if err != nil {
		return nil, err
	}

	app.server, err = server.New(c, server.Deps{
		Keys:        keyManager,
		Codec:       codec,
		Broker:      b,
		Refresh:     refreshTokens,
		APIKeys:     apiKeys,
		A2A:         issuer,
		A2APolicies: db.A2A(),
		Discovery:   catalog,
		Clients:     db.Clients(),
		Roles:       db.Roles(),
		Users:       db.Users(),
		Audit:       auditLog,
		Metrics:     mt,
		Health: func(ctx context.Context) error {
			var errs []error
			for _, ping := range health {
				errs = append(errs, ping(ctx))
			}
			return errors.Join(errs...)
		},
	})
	if err != nil {
		return nil, err
	}

	app.janitor = janitor.New(c.GetJanitorInterval(),
		janitor.Task{Name: "refresh_tokens", Sweep: refreshTokens.Sweep},
		janitor.At("login_state", time.Now, flows.DeleteExpired),
		janitor.Task{Name: "api_keys", Sweep: apiKeys.Sweep},
		janitor.Task{Name: "revoked_jtis", Sweep: revocations.Cleanup},
		janitor.Task{Name: "signing_keys", Sweep: keyManager.Purge},
		janitor.Task{Name: "discovery", Every: c.GetDiscoveryInterval(), Sweep: catalog.RunDue},
	)
	return app, nil
}
