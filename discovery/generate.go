package discovery

import (
	"strings"

	"github.com/jrsteele09/cids/permissions"
)

type heuristic struct {
	category   permissions.Category
	patterns   []string
	personOnly bool
}

// Checked in order; the first match wins.
var heuristics = []heuristic{
	{permissions.CategorySensitive, []string{"ssn", "password", "secret", "token", "social_security", "tax_id"}, false},
	{permissions.CategoryPHI, []string{"diagnosis", "medical", "health", "prescription", "treatment"}, false},
	{permissions.CategoryFinancial, []string{"salary", "balance", "amount", "price", "account_number", "iban", "card_number", "wage"}, false},
	{permissions.CategoryPII, []string{"email", "phone", "name", "address", "birth", "dob"}, true},
}

var personResources = []string{"user", "employee", "customer", "patient", "person", "people", "member", "contact", "staff", "profile"}

var categoryRank = map[permissions.Category]int{
	permissions.CategoryBase:      0,
	permissions.CategoryPII:       1,
	permissions.CategoryFinancial: 2,
	permissions.CategoryPHI:       3,
	permissions.CategorySensitive: 4,
}

// Categorize picks a field's category: the explicit tag when present, then
// the sensitive flag, then name patterns, then base.
func Categorize(resource, field string, f Field) permissions.Category {
	if c, ok := permissions.ParseCategory(f.Category); ok {
		return c
	}
	if f.Sensitive {
		return permissions.CategorySensitive
	}
	name := strings.ToLower(field)
	person := isPersonResource(resource)
	for _, h := range heuristics {
		if h.personOnly && !person {
			continue
		}
		for _, p := range h.patterns {
			if strings.Contains(name, p) {
				return h.category
			}
		}
	}
	return permissions.CategoryBase
}

func isPersonResource(resource string) bool {
	r := strings.ToLower(resource)
	for _, p := range personResources {
		if strings.Contains(r, p) {
			return true
		}
	}
	return false
}

// Generate turns a validated response into catalog rows: one per field and
// one wildcard per resource and action. A field declared by several
// endpoints keeps its most sensitive category. Output is sorted.
func Generate(appID string, resp *Response) (rows []permissions.Discovered, endpoints int) {
	type key struct{ resource, action, field string }
	fields := map[key]permissions.Discovered{}
	wildcards := map[key]permissions.Discovered{}

	for _, ep := range resp.Endpoints {
		if !ep.Generates() {
			continue
		}
		endpoints++
		wk := key{ep.Resource, ep.Action, permissions.Wildcard}
		w, ok := wildcards[wk]
		if !ok {
			w = permissions.Discovered{
				AppID:    appID,
				Resource: ep.Resource,
				Action:   ep.Action,
				Field:    permissions.Wildcard,
				Category: permissions.CategoryBase,
			}
		}
		for name, f := range ep.ResponseFields {
			c := Categorize(ep.Resource, name, f)
			sensitive := f.Sensitive || c == permissions.CategorySensitive
			k := key{ep.Resource, ep.Action, name}
			if prev, ok := fields[k]; ok {
				if categoryRank[prev.Category] > categoryRank[c] {
					c = prev.Category
				}
				sensitive = sensitive || prev.Sensitive
			}
			fields[k] = permissions.Discovered{
				AppID:     appID,
				Resource:  ep.Resource,
				Action:    ep.Action,
				Field:     name,
				Category:  c,
				Sensitive: sensitive,
			}
			w.Sensitive = w.Sensitive || sensitive
		}
		wildcards[wk] = w
	}

	rows = make([]permissions.Discovered, 0, len(fields)+len(wildcards))
	for _, d := range fields {
		rows = append(rows, d)
	}
	for _, d := range wildcards {
		rows = append(rows, d)
	}
	permissions.SortDiscovered(rows)
	return rows, endpoints
}
