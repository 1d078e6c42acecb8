package ddl

import "fmt"

// PolicyClass selects the row-level-security policy set for a table.
type PolicyClass string

// all supported policy classes
const (
	// PolicySuperuser: only superusers may write, everybody in the
	// tenant may read.
	PolicySuperuser PolicyClass = "superuser"
	// PolicyAdmin: tenant admins may write, tenant members may read.
	PolicyAdmin PolicyClass = "admin"
	// PolicyOwner: the row owner and superusers may write, tenant
	// members may read.
	PolicyOwner PolicyClass = "owner"
	// PolicyTenant: tenant members may read and write rows of their
	// tenant. The default for business tables.
	PolicyTenant PolicyClass = "tenant"
	// PolicyNone: no row-level security.
	PolicyNone PolicyClass = "none"
)

// Valid reports whether p is a known policy class.
func (p PolicyClass) Valid() bool {
	switch p {
	case PolicySuperuser, PolicyAdmin, PolicyOwner, PolicyTenant, PolicyNone:
		return true
	}
	return false
}

const (
	superuserVar   = "current_setting('rls_var.is_superuser', true)::BOOLEAN"
	tenantAdminVar = "current_setting('rls_var.is_tenant_admin', true)::BOOLEAN"
	tenantVar      = "current_setting('rls_var.tenant_id', true)::TEXT"
	userVar        = "current_setting('rls_var.user_id', true)::TEXT"
)

// EnableRLSSQL enables and forces row-level security on a table. RLS is
// forced so even the table owner is subject to the policies.
func (c Config) EnableRLSSQL(schema, table string) string {
	return fmt.Sprintf(`
SET ROLE %[1]s;
ALTER TABLE %[2]s.%[3]s ENABLE ROW LEVEL SECURITY;
ALTER TABLE %[2]s.%[3]s FORCE ROW LEVEL SECURITY;`, c.admin(), schema, quoteIdent(table))
}

// RLSPoliciesSQL emits the select/insert/update/delete policies of the
// given class for a table. Tables of class PolicyNone get no policies.
// All other classes reference the table's tenant_id column; the auth
// tables without one have dedicated emitters.
func (c Config) RLSPoliciesSQL(schema, table string, class PolicyClass) string {
	if class == PolicyNone {
		return ""
	}
	sql := c.EnableRLSSQL(schema, table)

	read := fmt.Sprintf("%s OR tenant_id = %s", superuserVar, tenantVar)
	var write string
	switch class {
	case PolicySuperuser:
		write = superuserVar
	case PolicyAdmin:
		write = fmt.Sprintf("%s OR (%s AND tenant_id = %s)", superuserVar, tenantAdminVar, tenantVar)
	case PolicyOwner:
		write = fmt.Sprintf("%s OR (owner_id = %s AND tenant_id = %s)", superuserVar, userVar, tenantVar)
	case PolicyTenant:
		write = read
	}

	sql += fmt.Sprintf(`
CREATE POLICY %[2]s_select_policy
ON %[1]s.%[5]s FOR SELECT
USING (%[3]s);

CREATE POLICY %[2]s_insert_policy
ON %[1]s.%[5]s FOR INSERT
WITH CHECK (%[4]s);

CREATE POLICY %[2]s_update_policy
ON %[1]s.%[5]s FOR UPDATE
USING (%[4]s);

CREATE POLICY %[2]s_delete_policy
ON %[1]s.%[5]s FOR DELETE
USING (%[4]s);`, schema, table, read, write, quoteIdent(table))
	return sql
}

// TenantRLSPoliciesSQL emits the policies of the tenant table, which
// carries no tenant_id column of its own: members read their tenant by
// id, only superusers write.
func (c Config) TenantRLSPoliciesSQL() string {
	read := fmt.Sprintf("%s OR id = %s", superuserVar, tenantVar)
	return c.EnableRLSSQL("un0", "tenant") + fmt.Sprintf(`
CREATE POLICY tenant_select_policy
ON un0.tenant FOR SELECT
USING (%[1]s);

CREATE POLICY tenant_insert_policy
ON un0.tenant FOR INSERT
WITH CHECK (%[2]s);

CREATE POLICY tenant_update_policy
ON un0.tenant FOR UPDATE
USING (%[2]s);

CREATE POLICY tenant_delete_policy
ON un0.tenant FOR DELETE
USING (%[2]s);`, read, superuserVar)
}

// UserGroupRoleRLSPoliciesSQL emits the policies of the assignment
// table. It has no tenant_id column; the tenant follows from the
// assigned group. Tenant members read, tenant admins write.
func (c Config) UserGroupRoleRLSPoliciesSQL() string {
	member := fmt.Sprintf(`EXISTS (
        SELECT 1 FROM un0."group" g
        WHERE g.id = group_id AND g.tenant_id = %s
    )`, tenantVar)
	read := fmt.Sprintf("%s OR %s", superuserVar, member)
	write := fmt.Sprintf("%s OR (%s AND %s)", superuserVar, tenantAdminVar, member)

	return c.EnableRLSSQL("un0", "user_group_role") + fmt.Sprintf(`
CREATE POLICY user_group_role_select_policy
ON un0.user_group_role FOR SELECT
USING (%[1]s);

CREATE POLICY user_group_role_insert_policy
ON un0.user_group_role FOR INSERT
WITH CHECK (%[2]s);

CREATE POLICY user_group_role_update_policy
ON un0.user_group_role FOR UPDATE
USING (%[2]s);

CREATE POLICY user_group_role_delete_policy
ON un0.user_group_role FOR DELETE
USING (%[2]s);`, read, write)
}

// UserRLSPoliciesSQL emits the policies of the user table itself. Users
// always see their own row, superusers see everything, everybody else
// sees their tenant. Only superusers and tenant admins may write.
func (c Config) UserRLSPoliciesSQL() string {
	read := fmt.Sprintf(`email = current_setting('rls_var.email', true)::TEXT OR
    %s OR
    tenant_id = %s`, superuserVar, tenantVar)
	write := fmt.Sprintf("%s OR (%s AND tenant_id = %s)", superuserVar, tenantAdminVar, tenantVar)

	return c.EnableRLSSQL("un0", "user") + fmt.Sprintf(`
CREATE POLICY user_select_policy
ON un0."user" FOR SELECT
USING (%[1]s);

CREATE POLICY user_insert_policy
ON un0."user" FOR INSERT
WITH CHECK (%[2]s);

CREATE POLICY user_update_policy
ON un0."user" FOR UPDATE
USING (%[2]s);

CREATE POLICY user_delete_policy
ON un0."user" FOR DELETE
USING (%[2]s);`, read, write)
}

// AuthorizeUserFunctionSQL creates un0.authorize_user, which verifies a
// JWT with pgjwt against the stored token secret and publishes the
// rls_var.* session settings. HTTP requests are verified in the service
// itself; this function serves direct database sessions (psql,
// reporting tools) so they are subject to the same row-level security.
func (c Config) AuthorizeUserFunctionSQL() string {
	return fmt.Sprintf(`
CREATE OR REPLACE FUNCTION un0.authorize_user(token TEXT, role_name TEXT DEFAULT 'reader')
    RETURNS BOOLEAN
    LANGUAGE plpgsql
AS $$
DECLARE
    token_header JSONB;
    token_payload JSONB;
    token_valid BOOLEAN;
    sub TEXT;
    expiration INT;
    user_email TEXT;
    user_id TEXT;
    user_is_superuser TEXT;
    user_is_tenant_admin TEXT;
    user_tenant_id TEXT;
    user_is_active BOOLEAN;
    user_is_deleted BOOLEAN;
    token_secret TEXT;
    full_role_name TEXT := '%[1]s_' || role_name;
    admin_role_name TEXT := '%[1]s_admin';
BEGIN
    -- the token secret is only readable by the admin role
    EXECUTE 'SET ROLE ' || admin_role_name;
    SELECT secret FROM un0.token_secret INTO token_secret;

    SELECT header, payload, valid
    FROM un0.verify(token, token_secret)
    INTO token_header, token_payload, token_valid;

    IF NOT token_valid THEN
        RAISE EXCEPTION 'invalid token';
    END IF;

    sub := token_payload ->> 'sub';
    IF sub IS NULL THEN
        RAISE EXCEPTION 'no sub in token';
    END IF;

    expiration := token_payload ->> 'exp';
    IF expiration IS NULL THEN
        RAISE EXCEPTION 'no exp in token';
    END IF;

    PERFORM set_config('rls_var.email', sub, true);

    SELECT id, email, is_superuser, is_tenant_admin, tenant_id, is_active, is_deleted
    FROM un0."user"
    WHERE email = sub
    INTO
        user_id,
        user_email,
        user_is_superuser,
        user_is_tenant_admin,
        user_tenant_id,
        user_is_active,
        user_is_deleted;

    IF user_id IS NULL THEN
        RAISE EXCEPTION 'user not found';
    END IF;
    IF user_is_active = FALSE THEN
        RAISE EXCEPTION 'user is not active';
    END IF;
    IF user_is_deleted = TRUE THEN
        RAISE EXCEPTION 'user was deleted';
    END IF;

    PERFORM set_config('rls_var.email', user_email, true);
    PERFORM set_config('rls_var.user_id', user_id, true);
    PERFORM set_config('rls_var.is_superuser', user_is_superuser, true);
    PERFORM set_config('rls_var.is_tenant_admin', user_is_tenant_admin, true);
    PERFORM set_config('rls_var.tenant_id', user_tenant_id, true);

    EXECUTE 'SET ROLE ' || full_role_name;
    RETURN token_valid;
END;
$$;`, c.DBName)
}
