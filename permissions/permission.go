package permissions

import (
	"fmt"
	"strings"

	"github.com/jrsteele09/cids/internal/errors"
)

// Category is the sensitivity class of a field.
type Category string

const (
	CategoryBase      Category = "base"
	CategoryPII       Category = "pii"
	CategoryPHI       Category = "phi"
	CategoryFinancial Category = "financial"
	CategorySensitive Category = "sensitive"
)

var categories = []Category{CategoryBase, CategoryPII, CategoryPHI, CategoryFinancial, CategorySensitive}

// ParseCategory accepts one of the five category names.
func ParseCategory(s string) (Category, bool) {
	for _, c := range categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Wildcard selects every field of a resource and action.
const Wildcard = "*"

type SelectorKind int

const (
	SelectField SelectorKind = iota
	SelectCategory
	SelectWildcard
)

// Permission is a resource, action and field selector. Category names are
// reserved and always select a category, never a field of the same name.
type Permission struct {
	Resource string
	Action   string
	Kind     SelectorKind
	Field    string   // set when Kind is SelectField
	Category Category // set when Kind is SelectCategory
}

func FieldPermission(resource, action, field string) Permission {
	return Permission{Resource: resource, Action: action, Kind: SelectField, Field: field}
}

func CategoryPermission(resource, action string, c Category) Permission {
	return Permission{Resource: resource, Action: action, Kind: SelectCategory, Category: c}
}

func WildcardPermission(resource, action string) Permission {
	return Permission{Resource: resource, Action: action, Kind: SelectWildcard}
}

// Parse reads the resource.action.selector form. Exactly three non-empty
// segments are required.
func Parse(s string) (Permission, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return Permission{}, errors.Wrapf(errors.ErrInvalidRequest, "permission %q must be resource.action.field", s)
	}
	for _, p := range parts {
		if p == "" || strings.TrimSpace(p) != p {
			return Permission{}, errors.Wrapf(errors.ErrInvalidRequest, "permission %q has an empty segment", s)
		}
	}
	resource, action, selector := parts[0], parts[1], parts[2]
	if selector == Wildcard {
		return WildcardPermission(resource, action), nil
	}
	if c, ok := ParseCategory(selector); ok {
		return CategoryPermission(resource, action, c), nil
	}
	if strings.Contains(resource, Wildcard) || strings.Contains(action, Wildcard) || strings.Contains(selector, Wildcard) {
		return Permission{}, errors.Wrapf(errors.ErrInvalidRequest, "permission %q: wildcard only allowed as the whole field segment", s)
	}
	return FieldPermission(resource, action, selector), nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Permission {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ParseAll parses every string, returning the first error.
func ParseAll(in []string) ([]Permission, error) {
	out := make([]Permission, 0, len(in))
	for _, s := range in {
		p, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (p Permission) selector() string {
	switch p.Kind {
	case SelectWildcard:
		return Wildcard
	case SelectCategory:
		return string(p.Category)
	default:
		return p.Field
	}
}

func (p Permission) String() string {
	return fmt.Sprintf("%s.%s.%s", p.Resource, p.Action, p.selector())
}

// Scope is the resource.action pair a permission applies to.
func (p Permission) Scope() Scope {
	return Scope{Resource: p.Resource, Action: p.Action}
}

// Covers reports whether p grants the concrete field permission f, using
// category to resolve category selectors.
func (p Permission) Covers(f Permission, category Category) bool {
	if f.Kind != SelectField || p.Resource != f.Resource || p.Action != f.Action {
		return false
	}
	switch p.Kind {
	case SelectWildcard:
		return true
	case SelectCategory:
		return category != "" && p.Category == category
	default:
		return p.Field == f.Field
	}
}

type Scope struct {
	Resource string
	Action   string
}

func (s Scope) String() string {
	return s.Resource + "." + s.Action
}
