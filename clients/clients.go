package clients

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/jrsteele09/cids/internal/errors"
)

type DiscoveryStatus string

const (
	DiscoveryNever   DiscoveryStatus = ""
	DiscoverySuccess DiscoveryStatus = "success"
	DiscoveryFailed  DiscoveryStatus = "failed"
	DiscoverySkipped DiscoveryStatus = "skipped"
)

// Client is an application registered with the broker. Its ID is the
// client_id used as token audience and as app_id in discovery.
type Client struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Description         string          `json:"description,omitempty"`
	OwnerEmail          string          `json:"ownerEmail,omitempty"`
	RedirectURIs        []string        `json:"redirectURIs,omitempty"`
	IsActive            bool            `json:"isActive"`
	DiscoveryEndpoint   string          `json:"discoveryEndpoint,omitempty"`
	AllowDiscovery      bool            `json:"allowDiscovery"`
	LastDiscoveryAt     *time.Time      `json:"lastDiscoveryAt,omitempty"`
	LastDiscoveryStatus DiscoveryStatus `json:"lastDiscoveryStatus,omitempty"`
	LastDiscoveryError  string          `json:"lastDiscoveryError,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
}

// HasRedirectURI reports whether uri is registered for the client
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// Validate checks the fields required to register a client
func (c *Client) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.Wrapf(errors.ErrInvalidRequest, "client id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.Wrapf(errors.ErrInvalidRequest, "client name is required")
	}
	if c.AllowDiscovery && c.DiscoveryEndpoint == "" {
		return errors.Wrapf(errors.ErrInvalidRequest, "discovery endpoint is required when discovery is allowed")
	}
	for _, uri := range c.RedirectURIs {
		if err := ValidateRedirectURI(uri); err != nil {
			return err
		}
	}
	if c.DiscoveryEndpoint != "" {
		if err := ValidateRedirectURI(c.DiscoveryEndpoint); err != nil {
			return errors.Wrapf(errors.ErrInvalidRequest, "discovery endpoint: %v", err)
		}
	}
	return nil
}

// ValidateRedirectURI requires an absolute http(s) URL without a fragment.
func ValidateRedirectURI(uri string) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return errors.Wrapf(errors.ErrInvalidRequest, "redirect uri is required")
	}
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return errors.Wrapf(errors.ErrInvalidRequest, "redirect uri %q is not an absolute url", uri)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Wrapf(errors.ErrInvalidRequest, "redirect uri %q must use http or https scheme", uri)
	}
	if u.Fragment != "" || strings.Contains(uri, "#") {
		return errors.Wrapf(errors.ErrInvalidRequest, "redirect uri %q must not contain fragments", uri)
	}
	return nil
}

// DiscoveryDue reports whether a discovery attempt is outside the cooldown.
func (c *Client) DiscoveryDue(now time.Time, cooldown time.Duration) bool {
	if c.LastDiscoveryAt == nil {
		return true
	}
	return now.Sub(*c.LastDiscoveryAt) >= cooldown
}
