package permissions

import (
	"context"
	"sort"
)

// Discovered is one generated catalog row. Wildcard rows carry Field "*"
// and the base category.
type Discovered struct {
	AppID     string   `json:"appId"`
	Resource  string   `json:"resource"`
	Action    string   `json:"action"`
	Field     string   `json:"field"`
	Category  Category `json:"category"`
	Sensitive bool     `json:"sensitive"`
}

func (d Discovered) Permission() Permission {
	if d.Field == Wildcard {
		return WildcardPermission(d.Resource, d.Action)
	}
	return FieldPermission(d.Resource, d.Action, d.Field)
}

func (d Discovered) String() string {
	return d.Permission().String()
}

// SortDiscovered orders rows by resource, action and field.
func SortDiscovered(rows []Discovered) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		return a.Field < b.Field
	})
}

// Repo stores each application's catalog. ReplacePermissions swaps the
// whole set for an app atomically.
type Repo interface {
	ReplacePermissions(ctx context.Context, appID string, rows []Discovered) error
	ListPermissions(ctx context.Context, appID string) ([]Discovered, error)
}

// Catalog indexes discovered fields by resource and action.
type Catalog struct {
	fields map[Scope]map[string]Category
}

func NewCatalog(rows []Discovered) *Catalog {
	c := &Catalog{fields: make(map[Scope]map[string]Category)}
	for _, r := range rows {
		if r.Field == Wildcard {
			continue
		}
		s := Scope{Resource: r.Resource, Action: r.Action}
		if c.fields[s] == nil {
			c.fields[s] = make(map[string]Category)
		}
		c.fields[s][r.Field] = r.Category
	}
	return c
}

// Has reports whether the catalog declares any field for s.
func (c *Catalog) Has(s Scope) bool {
	return c != nil && len(c.fields[s]) > 0
}

// Fields returns the declared fields of s in name order.
func (c *Catalog) Fields(s Scope) []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.fields[s]))
	for f := range c.fields[s] {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// CategoryOf returns the category of a field, or "" when undeclared.
func (c *Catalog) CategoryOf(s Scope, field string) Category {
	if c == nil {
		return ""
	}
	return c.fields[s][field]
}

// Expand returns the concrete field permissions p selects. Field
// permissions are returned as is; category and wildcard selectors need the
// catalog and expand to nothing without it.
func (c *Catalog) Expand(p Permission) []Permission {
	if p.Kind == SelectField {
		return []Permission{p}
	}
	s := p.Scope()
	var out []Permission
	for _, f := range c.Fields(s) {
		fp := FieldPermission(p.Resource, p.Action, f)
		if p.Covers(fp, c.CategoryOf(s, f)) {
			out = append(out, fp)
		}
	}
	return out
}
