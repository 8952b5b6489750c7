package server

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"github.com/jrsteele09/cids/a2a"
	"github.com/jrsteele09/cids/apikeys"
	"github.com/jrsteele09/cids/audit"
	"github.com/jrsteele09/cids/broker"
	"github.com/jrsteele09/cids/clients"
	"github.com/jrsteele09/cids/discovery"
	"github.com/jrsteele09/cids/internal/config"
	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/internal/metrics"
	"github.com/jrsteele09/cids/roles"
	"github.com/jrsteele09/cids/token/jwt"
	"github.com/jrsteele09/cids/token/keys"
	"github.com/jrsteele09/cids/token/refresh"
	"github.com/jrsteele09/cids/users"
)

// Deps are the components the HTTP surface delegates to.
type Deps struct {
	Keys        *keys.Manager
	Codec       *jwt.Codec
	Broker      *broker.Broker
	Refresh     *refresh.Manager
	APIKeys     *apikeys.Manager
	A2A         *a2a.Issuer
	A2APolicies a2a.Repo
	Discovery   *discovery.Catalog
	Clients     clients.Repo
	Roles       roles.Repo
	Users       users.Repo
	Audit       *audit.Log
	Metrics     *metrics.Metrics
	// Health reports whether backing stores answer. Nil means always healthy.
	Health func(ctx context.Context) error
}

type Server struct {
	env            string
	mux            *http.ServeMux
	routes         []string
	config         config.Config
	deps           Deps
	adminToken     string
	limiter        *ipRateLimiter
	trustedProxies []netip.Prefix
}

func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Keys == nil || deps.Codec == nil || deps.Broker == nil || deps.Refresh == nil || deps.APIKeys == nil || deps.A2A == nil {
		return nil, errors.New("[server.New] keys, codec, broker, refresh, api keys and a2a issuer are required")
	}
	if deps.Discovery == nil || deps.Clients == nil || deps.Roles == nil || deps.A2APolicies == nil || deps.Users == nil || deps.Audit == nil {
		return nil, errors.New("[server.New] discovery, clients, roles, a2a policies, users and audit are required")
	}

	s := &Server{
		env:            cfg.GetEnv(),
		mux:            http.NewServeMux(),
		config:         cfg,
		deps:           deps,
		trustedProxies: cfg.GetTrustedProxies(),
	}
	if cfg.GetEnableRateLimiting() {
		s.limiter = newIPRateLimiter(cfg.GetRateLimitPerSecond(), cfg.GetRateLimitBurst())
	}

	if err := s.InitialiseSystem(context.Background()); err != nil {
		return nil, fmt.Errorf("[server.New] failed to initialise the system: %w", err)
	}

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, s.deps.Metrics.Instrument(handler))
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.RegisterRouteHandler(pattern, http.HandlerFunc(handler))
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.limiter.stop()
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}
