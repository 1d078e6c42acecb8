package ddl

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq" // load database driver for postgres

	"github.com/notorm-tech/un0/core/logger"
)

// Provisioner creates and drops the database and installs everything
// the service needs before the mapped business tables are created: the
// role hierarchy, schemas and extensions, the token secret, the ULID
// and trigger functions, the meta tables and the auth tables with their
// row-level-security policies.
//
// PostgresDSN must point at the postgres maintenance database with
// superuser credentials; DatabaseDSN at the application database with
// the same credentials. Both are only used at provisioning time, the
// service itself connects with the login role.
type Provisioner struct {
	Config
	Caps        GroupCaps
	PostgresDSN string
	DatabaseDSN string
}

// tables in the un0 schema that get the related-object ULID trigger
var authMappedTables = []string{"tenant", "group", "user", "role"}

// auth tables mirrored into the graph, with the columns carried as
// vertex properties
var authVertexTables = map[string][]string{
	"tenant": {"name"},
	"user":   {"email", "handle", "full_name"},
	"group":  {"name"},
}

var authVertexEdges = map[string][]Edge{
	"user": {
		{Column: "tenant_id", Label: "WORKS_FOR", Target: "tenant"},
		{Column: "default_group_id", Label: "HAS_DEFAULT_GROUP", Target: "group"},
	},
	"group": {
		{Column: "tenant_id", Label: "BELONGS_TO_TENANT", Target: "tenant"},
	},
}

// alreadyExists matches errors from objects left behind by an earlier
// provisioning run: types, tables, policies, graph labels.
func alreadyExists(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate")
}

func execAll(ctx context.Context, db *sql.DB, statements []string) error {
	for _, statement := range statements {
		if statement == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, statement); err != nil {
			if alreadyExists(err) {
				continue
			}
			return fmt.Errorf("provision: %w", err)
		}
	}
	return nil
}

// CreateDatabase creates the role hierarchy and the database itself.
// It connects to the postgres maintenance database. Idempotent.
func (p Provisioner) CreateDatabase(ctx context.Context) error {
	rlog := logger.FromContext(ctx)
	rlog.Infof("creating roles and database %s", p.DBName)

	db, err := sql.Open("postgres", p.PostgresDSN)
	if err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	defer db.Close()

	return execAll(ctx, db, []string{
		p.CreateRolesSQL(),
		p.CreateDatabaseSQL(),
	})
}

// DropDatabase force-drops the database and all its roles.
func (p Provisioner) DropDatabase(ctx context.Context) error {
	rlog := logger.FromContext(ctx)
	rlog.Infof("dropping database %s and its roles", p.DBName)

	db, err := sql.Open("postgres", p.PostgresDSN)
	if err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	defer db.Close()

	return execAll(ctx, db, []string{
		p.DropDatabaseSQL(),
		p.DropRolesSQL(),
	})
}

// Provision installs schemas, extensions, functions, meta tables and
// auth tables into the database created by CreateDatabase. The
// statements run in dependency order. Idempotent: objects that already
// exist from an earlier run are skipped, so the service can provision
// on every start.
func (p Provisioner) Provision(ctx context.Context) error {
	rlog := logger.FromContext(ctx)
	rlog.Infof("provisioning database %s", p.DBName)

	db, err := sql.Open("postgres", p.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	defer db.Close()

	statements := []string{
		p.SchemasAndExtensionsSQL(),
		p.PrivilegesAndSearchPathSQL(),
		p.TokenSecretSQL(),
		p.ULIDFunctionSQL(),
		p.MetaTablesSQL(),
		p.InsertRelatedObjectFunctionSQL(),
		p.SetModifiedFunctionSQL(),
		p.CreateTablePermissionsFunctionSQL(),
		p.AuthTablesSQL(),
		p.InsertGroupForTenantTriggerSQL(),
		p.CanInsertGroupFunctionSQL(p.Caps),
	}

	for _, table := range authMappedTables {
		statements = append(statements,
			InsertTableTypeSQL("un0", table),
			RelatedObjectTriggerSQL("un0", table),
			CreateTriggerSQL("un0", table, "set_modified", "BEFORE", "UPDATE"),
		)
	}

	statements = append(statements,
		p.TenantRLSPoliciesSQL(),
		p.RLSPoliciesSQL("un0", "group", PolicyAdmin),
		p.RLSPoliciesSQL("un0", "role", PolicyAdmin),
		p.UserGroupRoleRLSPoliciesSQL(),
		p.UserRLSPoliciesSQL(),
		p.AuthorizeUserFunctionSQL(),
		p.HistoryTableAuditSQL("un0", "user"),
	)

	for _, table := range []string{"tenant", "group", "user"} {
		statements = append(statements,
			VertexLabelSQL(table),
			p.VertexTriggersSQL("un0", table, authVertexTables[table], authVertexEdges[table]),
		)
	}

	statements = append(statements, p.TablePrivilegesSQL())

	return execAll(ctx, db, statements)
}

// SetTokenSecret stores the token secret in the database. The trigger
// on un0.token_secret removes any previous secret, so tokens signed
// before a rotation become invalid.
func (p Provisioner) SetTokenSecret(ctx context.Context, secret string) error {
	db, err := sql.Open("postgres", p.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SET ROLE "+p.admin()); err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO un0.token_secret (secret) VALUES ($1);", secret); err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	return nil
}

// CreateUser inserts a user directly, bypassing row-level security.
// This is how the first superuser gets into the database; everything
// after that goes through the service. Returns the new user's id.
func (p Provisioner) CreateUser(ctx context.Context, email, handle, fullName string, isSuperuser, isTenantAdmin bool) (string, error) {
	rlog := logger.FromContext(ctx)

	db, err := sql.Open("postgres", p.DatabaseDSN)
	if err != nil {
		return "", fmt.Errorf("provision: %w", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("provision: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SET ROLE "+p.admin()); err != nil {
		return "", fmt.Errorf("provision: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE un0."user" DISABLE ROW LEVEL SECURITY;`); err != nil {
		return "", fmt.Errorf("provision: %w", err)
	}

	var id string
	err = tx.QueryRowContext(ctx, `
INSERT INTO un0."user" (email, handle, full_name, is_superuser, is_tenant_admin)
VALUES ($1, $2, $3, $4, $5)
RETURNING id;`, email, handle, fullName, isSuperuser, isTenantAdmin).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("provision: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `ALTER TABLE un0."user" ENABLE ROW LEVEL SECURITY;`); err != nil {
		return "", fmt.Errorf("provision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("provision: %w", err)
	}

	rlog.Infof("created user %s", email)
	return id, nil
}
