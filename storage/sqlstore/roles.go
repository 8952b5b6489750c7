package sqlstore

import (
	"context"

	"github.com/jrsteele09/cids/roles"
)

type RolesRepo struct{ s *Store }

var _ roles.Repo = (*RolesRepo)(nil)

func (s *Store) Roles() *RolesRepo { return &RolesRepo{s: s} }

func (r *RolesRepo) UpsertRole(ctx context.Context, role *roles.Role) error {
	allowed, err := encodeJSON(role.Allowed)
	if err != nil {
		return err
	}
	denied, err := encodeJSON(role.Denied)
	if err != nil {
		return err
	}
	rls, err := encodeJSON(role.RLSTemplates)
	if err != nil {
		return err
	}
	_, err = r.s.exec(ctx, r.s.db, `
		INSERT INTO roles (app_id, name, description, allowed, denied, rls_templates)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (app_id, name) DO UPDATE SET
			description = excluded.description,
			allowed = excluded.allowed,
			denied = excluded.denied,
			rls_templates = excluded.rls_templates`,
		role.AppID, role.Name, role.Description, allowed, denied, rls)
	return err
}

func (r *RolesRepo) DeleteRole(ctx context.Context, appID, name string) error {
	_, err := r.s.exec(ctx, r.s.db, `DELETE FROM roles WHERE app_id = ? AND name = ?`, appID, name)
	return err
}

func (r *RolesRepo) ListRoles(ctx context.Context, appID string) ([]*roles.Role, error) {
	rows, err := r.s.query(ctx, r.s.db,
		`SELECT app_id, name, description, allowed, denied, rls_templates FROM roles WHERE app_id = ? ORDER BY name`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*roles.Role, 0)
	for rows.Next() {
		var (
			role                 roles.Role
			allowed, denied, rls string
		)
		if err := rows.Scan(&role.AppID, &role.Name, &role.Description, &allowed, &denied, &rls); err != nil {
			return nil, err
		}
		if err := decodeJSON(allowed, &role.Allowed); err != nil {
			return nil, err
		}
		if err := decodeJSON(denied, &role.Denied); err != nil {
			return nil, err
		}
		if err := decodeJSON(rls, &role.RLSTemplates); err != nil {
			return nil, err
		}
		out = append(out, &role)
	}
	return out, rows.Err()
}

func (r *RolesRepo) UpsertMapping(ctx context.Context, m *roles.Mapping) error {
	_, err := r.s.exec(ctx, r.s.db, `
		INSERT INTO role_mappings (app_id, group_name, role_name, tenant_scope)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (app_id, group_name, role_name, tenant_scope) DO NOTHING`,
		m.AppID, m.Group, m.RoleName, m.TenantScope)
	return err
}

func (r *RolesRepo) DeleteMapping(ctx context.Context, m *roles.Mapping) error {
	_, err := r.s.exec(ctx, r.s.db,
		`DELETE FROM role_mappings WHERE app_id = ? AND group_name = ? AND role_name = ? AND tenant_scope = ?`,
		m.AppID, m.Group, m.RoleName, m.TenantScope)
	return err
}

func (r *RolesRepo) ListMappings(ctx context.Context, appID string) ([]*roles.Mapping, error) {
	rows, err := r.s.query(ctx, r.s.db, `
		SELECT app_id, group_name, role_name, tenant_scope FROM role_mappings
		WHERE app_id = ? ORDER BY group_name, role_name, tenant_scope`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*roles.Mapping, 0)
	for rows.Next() {
		var m roles.Mapping
		if err := rows.Scan(&m.AppID, &m.Group, &m.RoleName, &m.TenantScope); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
