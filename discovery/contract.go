package discovery

import (
	"slices"
	"strings"

	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/permissions"
)

// ContractVersion is the only discovery contract version accepted.
const ContractVersion = "2.0"

var (
	methods = []string{"GET", "POST", "PUT", "DELETE", "PATCH"}
	actions = []string{"read", "create", "update", "delete", "list"}
)

// Response is the document an application serves at its discovery endpoint.
type Response struct {
	Version     string     `json:"version"`
	AppID       string     `json:"app_id"`
	AppName     string     `json:"app_name"`
	LastUpdated string     `json:"last_updated"`
	Endpoints   []Endpoint `json:"endpoints"`
}

// Endpoint declares one API operation. Resource and action are optional;
// without both no permissions are generated for the endpoint.
type Endpoint struct {
	Method         string           `json:"method"`
	Path           string           `json:"path"`
	Resource       string           `json:"resource,omitempty"`
	Action         string           `json:"action,omitempty"`
	Description    string           `json:"description,omitempty"`
	ResponseFields map[string]Field `json:"response_fields,omitempty"`
}

// Generates reports whether the endpoint contributes permissions.
func (e Endpoint) Generates() bool {
	return e.Resource != "" && e.Action != ""
}

type Field struct {
	Type        string `json:"type"`
	Category    string `json:"category,omitempty"`
	Sensitive   bool   `json:"sensitive,omitempty"`
	Description string `json:"description,omitempty"`
}

// Validate checks resp against the registered clientID. With
// requireCategory every field must carry an explicit category; otherwise
// untagged fields are categorized by name.
func Validate(resp *Response, clientID string, requireCategory bool) error {
	if resp == nil {
		return errors.Wrapf(errors.ErrSchemaInvalid, "empty response")
	}
	if resp.Version != ContractVersion {
		return errors.Wrapf(errors.ErrSchemaInvalid, "unsupported version %q", resp.Version)
	}
	if resp.AppID != clientID {
		return errors.Wrapf(errors.ErrAppIDMismatch, "declared %q, registered %q", resp.AppID, clientID)
	}
	for i, ep := range resp.Endpoints {
		if err := validateEndpoint(ep, requireCategory); err != nil {
			return errors.Wrapf(err, "endpoint %d (%s %s)", i, ep.Method, ep.Path)
		}
	}
	return nil
}

func validateEndpoint(ep Endpoint, requireCategory bool) error {
	if !slices.Contains(methods, strings.ToUpper(ep.Method)) {
		return errors.Wrapf(errors.ErrSchemaInvalid, "unsupported method %q", ep.Method)
	}
	if strings.TrimSpace(ep.Path) == "" {
		return errors.Wrapf(errors.ErrSchemaInvalid, "path is required")
	}
	if ep.Action != "" && !slices.Contains(actions, ep.Action) {
		return errors.Wrapf(errors.ErrSchemaInvalid, "unsupported action %q", ep.Action)
	}
	if ep.Resource != "" && !validSegment(ep.Resource) {
		return errors.Wrapf(errors.ErrSchemaInvalid, "invalid resource %q", ep.Resource)
	}
	for name, f := range ep.ResponseFields {
		if !validSegment(name) {
			return errors.Wrapf(errors.ErrSchemaInvalid, "invalid field name %q", name)
		}
		if _, reserved := permissions.ParseCategory(name); reserved {
			return errors.Wrapf(errors.ErrSchemaInvalid, "field name %q collides with a category", name)
		}
		if f.Category == "" {
			if requireCategory {
				return errors.Wrapf(errors.ErrSchemaInvalid, "field %q has no category", name)
			}
			continue
		}
		if _, ok := permissions.ParseCategory(f.Category); !ok {
			return errors.Wrapf(errors.ErrSchemaInvalid, "field %q has unknown category %q", name, f.Category)
		}
	}
	return nil
}

// validSegment rejects names that would break the resource.action.field
// form.
func validSegment(s string) bool {
	return s != "" && strings.TrimSpace(s) == s && !strings.ContainsAny(s, ".*")
}
