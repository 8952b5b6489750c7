package config_test

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/cids/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.New()

	require.Equal(t, ":8080", cfg.GetPort())
	require.Equal(t, 15*time.Minute, cfg.GetAccessTokenExpiry())
	require.Equal(t, 5*time.Minute, cfg.GetDiscoveryCooldown())
	require.Equal(t, 5*time.Minute, cfg.GetDiscoveryInterval())
	require.Equal(t, time.Minute, cfg.GetJanitorInterval())
	require.False(t, cfg.GetAllowMultipleActiveAPIKeys())
	require.Equal(t, []string{"openid", "profile", "email"}, cfg.GetIdPScopes())
	require.Empty(t, cfg.GetServiceProxyCallerClasses())
}

func TestLoadFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cids.yaml")
	content := `
ACCESS_TOKEN_TTL: 5m
discovery_cooldown: 1m
SERVICE_PROXY_CALLER_CLASSES:
  - gateway
  - mesh
PORT: 9090
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("PORT", "7070")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, 5*time.Minute, cfg.GetAccessTokenExpiry())
	require.Equal(t, time.Minute, cfg.GetDiscoveryCooldown())
	require.Equal(t, []string{"gateway", "mesh"}, cfg.GetServiceProxyCallerClasses())
	require.Equal(t, ":7070", cfg.GetPort(), "environment wins over file")
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, "CIDS", cfg.GetAppName())
}

func TestTrustedProxies(t *testing.T) {
	require.Empty(t, config.New().GetTrustedProxies())

	t.Setenv("TRUSTED_PROXY_CIDRS", "10.0.0.0/8, 192.0.2.7, not-a-cidr, 172.16.5.4/12")
	require.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.7/32"),
		netip.MustParsePrefix("172.16.0.0/12"),
	}, config.New().GetTrustedProxies())
}

func TestInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("DISCOVERY_TIMEOUT", "soon")
	require.Equal(t, 10*time.Second, config.New().GetDiscoveryTimeout())
}

func TestAllowedOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	origins := config.New().GetAllowedOrigins()
	require.True(t, origins.IsAllowedOrigin("https://a.example"))
	require.False(t, origins.IsAllowedOrigin("https://c.example"))
}
