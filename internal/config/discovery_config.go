package config

import "time"

type DiscoveryConfig interface {
	GetDiscoveryTimeout() time.Duration
	GetDiscoveryCooldown() time.Duration
	GetDiscoveryInterval() time.Duration
	GetRequireExplicitCategory() bool
}

type Discovery struct {
	src *source
}

var _ DiscoveryConfig = Discovery{}

func (d Discovery) GetDiscoveryTimeout() time.Duration {
	return d.src.duration("DISCOVERY_TIMEOUT", 10*time.Second)
}

func (d Discovery) GetDiscoveryCooldown() time.Duration {
	return d.src.duration("DISCOVERY_COOLDOWN", 5*time.Minute)
}

// GetDiscoveryInterval is how often scheduled discovery looks for due
// applications. It runs apart from the cleanup sweeps.
func (d Discovery) GetDiscoveryInterval() time.Duration {
	return d.src.duration("DISCOVERY_INTERVAL", 5*time.Minute)
}

func (d Discovery) GetRequireExplicitCategory() bool {
	return d.src.boolean("DISCOVERY_REQUIRE_CATEGORY", false)
}
