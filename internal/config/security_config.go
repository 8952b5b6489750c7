package config

import (
	"net/netip"
	"time"

	"github.com/rs/zerolog/log"
)

type SecurityConfig interface {
	GetBindTokensToIP() bool
	GetServiceProxyCallerClasses() []string
	GetTrustedProxies() []netip.Prefix
	GetAdminToken() string
	GetEnableRateLimiting() bool
	GetRateLimitPerSecond() int
	GetRateLimitBurst() int
	GetAllowMultipleActiveAPIKeys() bool
	GetAPIKeyDefaultTTL() time.Duration
	GetAPIKeyRotationGrace() time.Duration
}

type Security struct {
	src *source
}

var _ SecurityConfig = Security{}

func (s Security) GetBindTokensToIP() bool {
	return s.src.boolean("BIND_TOKENS_TO_IP", true)
}

// GetServiceProxyCallerClasses lists caller classes allowed to present an
// IP-bound token from a different address. Empty disables the bypass.
func (s Security) GetServiceProxyCallerClasses() []string {
	return s.src.list("SERVICE_PROXY_CALLER_CLASSES", nil)
}

// GetTrustedProxies lists the peer networks whose X-Client-IP header is
// believed. Empty means the header is always ignored. Bare addresses are
// accepted as single host prefixes.
func (s Security) GetTrustedProxies() []netip.Prefix {
	var out []netip.Prefix
	for _, raw := range s.src.list("TRUSTED_PROXY_CIDRS", nil) {
		if addr, err := netip.ParseAddr(raw); err == nil {
			out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			log.Warn().Str("var", "TRUSTED_PROXY_CIDRS").Str("value", raw).Msg("invalid cidr, ignoring")
			continue
		}
		out = append(out, prefix.Masked())
	}
	return out
}

func (s Security) GetAdminToken() string {
	return s.src.get("ADMIN_TOKEN", "")
}

func (s Security) GetEnableRateLimiting() bool {
	return s.src.boolean("RATE_LIMIT_ENABLED", true)
}

func (s Security) GetRateLimitPerSecond() int {
	return s.src.integer("RATE_LIMIT_RPS", 20)
}

func (s Security) GetRateLimitBurst() int {
	return s.src.integer("RATE_LIMIT_BURST", 40)
}

func (s Security) GetAllowMultipleActiveAPIKeys() bool {
	return s.src.boolean("API_KEYS_ALLOW_MULTIPLE", false)
}

func (s Security) GetAPIKeyDefaultTTL() time.Duration {
	return s.src.duration("API_KEY_TTL", 90*24*time.Hour)
}

func (s Security) GetAPIKeyRotationGrace() time.Duration {
	return s.src.duration("API_KEY_ROTATION_GRACE", 24*time.Hour)
}
